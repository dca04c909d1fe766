package compositor

import (
	"context"
	"errors"

	"github.com/BKSalman/buddaraysh/backend"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/BKSalman/buddaraysh/gateway"
	"github.com/BKSalman/buddaraysh/protocol"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
)

// Kind says what an error means for the compositor as a whole
type Kind int

const (
	// Shut down
	KindFatal = Kind(iota)
	// Log, give up on the affected output or feature and carry on
	KindDegraded
	// Only the offending client suffers
	KindClientLocal
	// Try again on the next frame
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindDegraded:
		return "degraded"
	case KindClientLocal:
		return "client-local"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var ErrDeviceLost = errors.New("display device lost")

func Classify(err error) Kind {
	var perr *protocol.ProtocolError
	switch {
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, backend.ErrBackendInitFailed),
		errors.Is(err, gateway.ErrPermissionDenied),
		errors.Is(err, gateway.ErrSessionUnavailable),
		errors.Is(err, ErrDeviceLost):
		return KindFatal
	case errors.Is(err, backend.ErrPresentBusy):
		return KindTransient
	case errors.As(err, &perr),
		errors.Is(err, scene.ErrInvalidSurfaceState),
		errors.Is(err, scene.ErrRoleConflict),
		errors.Is(err, render.ErrUnsupportedFormat):
		return KindClientLocal
	default:
		return KindDegraded
	}
}

// Process exit codes
const (
	ExitClean       = 0
	ExitError       = 1
	ExitBackendInit = 2
	ExitSession     = 3
	ExitDeviceLost  = 4
)

// ExitCode maps what ended the compositor to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitClean
	case errors.Is(err, backend.ErrBackendInitFailed):
		return ExitBackendInit
	case errors.Is(err, gateway.ErrPermissionDenied), errors.Is(err, gateway.ErrSessionUnavailable):
		return ExitSession
	case errors.Is(err, ErrDeviceLost):
		return ExitDeviceLost
	default:
		return ExitError
	}
}
