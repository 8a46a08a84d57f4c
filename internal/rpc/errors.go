package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/mosmo/analysis"
	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/model"
	"github.com/signalsfoundry/mosmo/sim"
)

// ErrNoReport is returned before the first scenario run finished.
var ErrNoReport = errors.New("no scenario report yet")

// ToStatusError maps engine and catalog errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, scenario.ErrInvalidScenario),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, core.ErrEmptyNetwork),
		errors.Is(err, core.ErrInconsistentEntity),
		errors.Is(err, sim.ErrInvalidKinetics),
		errors.Is(err, sim.ErrInvalidOptions),
		errors.Is(err, analysis.ErrInvalidProblem),
		errors.Is(err, analysis.ErrUnknownReaction),
		errors.Is(err, analysis.ErrUnknownSpecies),
		errors.Is(err, analysis.ErrInvalidWeight),
		errors.Is(err, analysis.ErrNonIntegerStoichiometry):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrNoReport):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrRecordExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, kb.ErrCatalogUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, sim.ErrDiverged), errors.Is(err, analysis.ErrModeOverflow):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
