package rpc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/kb"
)

const toyScenario = `
name: toy
catalog:
  species: [{id: A}, {id: B}, {id: C}]
  reactions:
    - {id: r1, stoichiometry: [{species: A, coefficient: -1}, {species: B, coefficient: 1}]}
    - {id: r2, stoichiometry: [{species: B, coefficient: -1}, {species: C, coefficient: 1}]}
network: {reactions: [r1, r2]}
kinetics:
  r1: {type: mass_action, forward: 1}
  r2: {type: mass_action, forward: 2}
initial: {A: 1}
trace: {source: A, target: C}
simulation: {end: 1, step: {type: fixed, size: 0.01}, sample_interval: 0.5}
`

type shapeRecorder struct{ species, reactions int }

func (r *shapeRecorder) SetNetworkShape(species, reactions int) {
	r.species, r.reactions = species, reactions
}

type harness struct {
	srv    *ScenarioServer
	client *ScenarioClient
	health healthpb.HealthClient
	shape  *shapeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fallback := kb.NewKnowledgeBase()
	_, err := kb.LoadCatalog(fallback, strings.NewReader(`
species: [{id: X}, {id: Y}]
reactions:
  - {id: rx, stoichiometry: [{species: X, coefficient: -1}, {species: Y, coefficient: 1}]}
pathways:
  - {id: px, reactions: [rx]}
`))
	require.NoError(t, err)

	hs := health.NewServer()
	shape := &shapeRecorder{}
	srv := NewScenarioServer(&scenario.Runner{}, fallback, WithHealth(hs), WithShapeRecorder(shape))

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RunIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
	))
	RegisterScenarioServiceServer(gs, srv)
	healthpb.RegisterHealthServer(gs, hs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{srv: srv, client: NewScenarioClient(conn), health: healthpb.NewHealthClient(conn), shape: shape}
}

func (h *harness) status(t *testing.T, ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	return resp.GetStatus()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetReportBeforeApply(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	_, err := h.client.GetReport(ctx)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.status(t, ctx))
}

func TestApplyServesReport(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	sc, err := scenario.Load(strings.NewReader(toyScenario))
	require.NoError(t, err)
	_, err = h.srv.Apply(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, 3, h.shape.species)
	assert.Equal(t, 2, h.shape.reactions)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.status(t, ctx))

	rep, err := h.client.GetReport(ctx)
	require.NoError(t, err)
	m := rep.AsMap()
	assert.Equal(t, "toy", m["name"])
	assert.Equal(t, 3.0, m["species"])
	assert.Equal(t, true, m["consistent"])

	trace := m["trace"].(map[string]any)
	assert.Equal(t, true, trace["found"])
	assert.Equal(t, []any{"r1", "r2"}, trace["reactions"])

	traj := m["trajectory"].(map[string]any)
	assert.Equal(t, []any{0.0, 0.5, 1.0}, traj["times"])
	final := traj["final"].(map[string]any)
	assert.InDelta(t, 1.0, final["A"].(float64)+final["B"].(float64)+final["C"].(float64), 1e-9)
	assert.NotContains(t, m, "flux")
}

func TestAnalyzeUsesFallbackCatalogAndKeepsServedReport(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	sc, err := scenario.Load(strings.NewReader(toyScenario))
	require.NoError(t, err)
	_, err = h.srv.Apply(ctx, sc)
	require.NoError(t, err)

	rep, err := h.client.Analyze(ctx, "name: adhoc\nnetwork: {pathway: px}\n")
	require.NoError(t, err)
	m := rep.AsMap()
	assert.Equal(t, "adhoc", m["name"])
	assert.Equal(t, true, m["consistent"])
	assert.NotContains(t, m, "trajectory")

	served, err := h.client.GetReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "toy", served.AsMap()["name"])
}

func TestAnalyzeErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	_, err := h.client.Analyze(ctx, "name: x\n")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Analyze(ctx, "name: gap\nnetwork: {reactions: [nope]}\n")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestFailMarksNotServing(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	sc, err := scenario.Load(strings.NewReader(toyScenario))
	require.NoError(t, err)
	_, err = h.srv.Apply(ctx, sc)
	require.NoError(t, err)

	_, loadErr := scenario.Load(strings.NewReader("name: broken\n"))
	require.Error(t, loadErr)
	h.srv.Fail(ctx, loadErr)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.status(t, ctx))
	_, err = h.client.GetReport(ctx)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRunIDInterceptorUsesMetadata(t *testing.T) {
	intercept := RunIDUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetReport"}

	var gotID string
	var gotLogger logging.Logger
	handler := func(ctx context.Context, _ any) (any, error) {
		gotID = logging.RunIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RunIDMetadataKey, "run-42"))
	_, err := intercept(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "run-42", gotID)
	assert.NotNil(t, gotLogger)

	_, err = intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.NotEmpty(t, gotID)
	assert.NotEqual(t, "run-42", gotID)
}
