package rpc

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/kb"
)

// ServiceName is the fully-qualified gRPC service name. Its health status
// tracks the outcome of the last applied scenario.
const ServiceName = "mosmo.v1.ScenarioService"

// ScenarioServiceServer is the server API. Requests and responses are
// well-known protobuf types: Analyze takes {"scenario": "<yaml>"}.
type ScenarioServiceServer interface {
	GetReport(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ShapeRecorder receives the size of each applied network.
type ShapeRecorder interface {
	SetNetworkShape(species, reactions int)
}

// ScenarioServer runs scenarios against a shared catalog and serves the
// report of the last applied one.
type ScenarioServer struct {
	runner   *scenario.Runner
	fallback kb.Catalog
	resolver []kb.ResolverOption
	log      logging.Logger
	health   *health.Server
	shape    ShapeRecorder

	mu      sync.RWMutex
	last    *scenario.Report
	lastErr error
}

type ServerOption func(*ScenarioServer)

func WithLogger(l logging.Logger) ServerOption {
	return func(s *ScenarioServer) {
		if l != nil {
			s.log = l
		}
	}
}

func WithHealth(h *health.Server) ServerOption {
	return func(s *ScenarioServer) { s.health = h }
}

func WithShapeRecorder(r ShapeRecorder) ServerOption {
	return func(s *ScenarioServer) { s.shape = r }
}

func WithResolverOptions(opts ...kb.ResolverOption) ServerOption {
	return func(s *ScenarioServer) { s.resolver = append(s.resolver, opts...) }
}

func NewScenarioServer(runner *scenario.Runner, fallback kb.Catalog, opts ...ServerOption) *ScenarioServer {
	if runner == nil {
		runner = &scenario.Runner{}
	}
	s := &ScenarioServer{runner: runner, fallback: fallback, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.health != nil {
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

func (s *ScenarioServer) run(ctx context.Context, sc *scenario.Scenario) (*scenario.Report, error) {
	built, err := sc.Build(ctx, s.fallback, s.resolver...)
	if err != nil {
		return nil, err
	}
	if s.shape != nil {
		s.shape.SetNetworkShape(built.Network.Shape())
	}
	return s.runner.Run(ctx, built)
}

// Apply builds and runs sc and makes its report the served one. A failed
// run is kept as the served error and marks the service NOT_SERVING.
func (s *ScenarioServer) Apply(ctx context.Context, sc *scenario.Scenario) (*scenario.Report, error) {
	rep, err := s.run(ctx, sc)

	s.mu.Lock()
	s.last, s.lastErr = rep, err
	s.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn(ctx, "scenario failed", logging.String("scenario", sc.Name), logging.Err(err))
	} else {
		s.log.Info(ctx, "scenario applied",
			logging.String("scenario", sc.Name),
			logging.Int("species", rep.Species),
			logging.Int("reactions", rep.Reactions),
		)
	}
	if s.health != nil {
		s.health.SetServingStatus(ServiceName, st)
	}
	return rep, err
}

// Fail records a scenario that could not be loaded.
func (s *ScenarioServer) Fail(ctx context.Context, err error) {
	s.mu.Lock()
	s.last, s.lastErr = nil, err
	s.mu.Unlock()
	s.log.Warn(ctx, "scenario rejected", logging.Err(err))
	if s.health != nil {
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (s *ScenarioServer) GetReport(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.RLock()
	rep, err := s.last, s.lastErr
	s.mu.RUnlock()
	switch {
	case err != nil:
		return nil, ToStatusError(err)
	case rep == nil:
		return nil, ToStatusError(ErrNoReport)
	}
	out, err := EncodeReport(rep)
	return out, ToStatusError(err)
}

func (s *ScenarioServer) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	doc := req.GetFields()["scenario"].GetStringValue()
	sc, err := scenario.Load(strings.NewReader(doc))
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "analyzing scenario", logging.String("scenario", sc.Name))
	rep, err := s.run(ctx, sc)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := EncodeReport(rep)
	return out, ToStatusError(err)
}

// logger prefers the per-call logger attached by RunIDUnaryServerInterceptor.
func (s *ScenarioServer) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// RegisterScenarioServiceServer registers srv on s.
func RegisterScenarioServiceServer(s grpc.ServiceRegistrar, srv ScenarioServiceServer) {
	s.RegisterService(&scenarioServiceDesc, srv)
}

var scenarioServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScenarioServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetReport", Handler: getReportHandler},
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
}

func getReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScenarioServiceServer).GetReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetReport"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScenarioServiceServer).GetReport(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScenarioServiceServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Analyze"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScenarioServiceServer).Analyze(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ScenarioClient calls a ScenarioService.
type ScenarioClient struct {
	cc grpc.ClientConnInterface
}

func NewScenarioClient(cc grpc.ClientConnInterface) *ScenarioClient {
	return &ScenarioClient{cc: cc}
}

func (c *ScenarioClient) GetReport(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetReport", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Analyze runs the scenario document without replacing the served report.
func (c *ScenarioClient) Analyze(ctx context.Context, doc string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"scenario": doc})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Analyze", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
