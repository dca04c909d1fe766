package compositor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/BKSalman/buddaraysh/backend"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/BKSalman/buddaraysh/gateway"
	"github.com/BKSalman/buddaraysh/protocol"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w: bad layout", config.ErrInvalid), KindFatal},
		{fmt.Errorf("%w: no display", backend.ErrBackendInitFailed), KindFatal},
		{gateway.ErrPermissionDenied, KindFatal},
		{errors.Join(ErrDeviceLost, errors.New("card0 gone")), KindFatal},
		{fmt.Errorf("%w: %w", render.ErrPresentFailed, backend.ErrPresentBusy), KindTransient},
		{&protocol.ProtocolError{Object: 3, Code: 1, Message: "bad"}, KindClientLocal},
		{fmt.Errorf("commit: %w", scene.ErrRoleConflict), KindClientLocal},
		{render.ErrUnsupportedFormat, KindClientLocal},
		{errors.New("something else"), KindDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitClean, ExitCode(nil))
	assert.Equal(t, ExitClean, ExitCode(context.Canceled))
	assert.Equal(t, ExitBackendInit, ExitCode(fmt.Errorf("%w: no host", backend.ErrBackendInitFailed)))
	assert.Equal(t, ExitSession, ExitCode(gateway.ErrSessionUnavailable))
	assert.Equal(t, ExitSession, ExitCode(gateway.ErrPermissionDenied))
	assert.Equal(t, ExitDeviceLost, ExitCode(ErrDeviceLost))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
}

func TestUnknownBackendExitsWithBackendInit(t *testing.T) {
	conf := config.Default()
	conf.Backend = "framebuffer"
	_, err := NewServer(Options{Config: &conf})
	assert.ErrorIs(t, err, backend.ErrBackendInitFailed)
	assert.Equal(t, ExitBackendInit, ExitCode(err))
}
