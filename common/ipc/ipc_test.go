package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T) (*Server, string) {
	t.Helper()
	path := SocketPath(t.TempDir(), "wayland-1")
	s, err := Listen(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, path
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/run/user/1000", "buddaraysh.wayland-1.sock"), SocketPath("/run/user/1000", "wayland-1"))
}

func TestRequestReachesLoopAndAnswerComesBack(t *testing.T) {
	s, path := serve(t)
	go func() {
		call := <-s.Calls()
		if call.Request.Kind != KindOutputs || call.Request.Outputs == nil || !call.Request.Outputs.IncludeModes {
			call.Reply(Response{Error: "unexpected request"})
			return
		}
		call.Reply(Response{OK: true, Outputs: &OutputResponse{
			Outputs:      []OutputInfo{{Name: "WL-1", Width: 1920, Height: 1080, Refresh: 60000, Scale: 1}},
			OutputModes:  map[string][]OutputMode{"WL-1": {{Width: 1920, Height: 1080, RefreshRate: 60000, Current: true}}},
			OutputsFound: 1,
		}})
	}()

	resp, err := Send(context.Background(), path, Request{Kind: KindOutputs, Outputs: &OutputRequest{IncludeModes: true}})
	require.NoError(t, err)
	require.NotNil(t, resp.Outputs)
	assert.Equal(t, 1, resp.Outputs.OutputsFound)
	assert.Equal(t, "WL-1", resp.Outputs.Outputs[0].Name)
	assert.True(t, resp.Outputs.OutputModes["WL-1"][0].Current)
}

func TestFailureBecomesError(t *testing.T) {
	s, path := serve(t)
	go func() {
		call := <-s.Calls()
		call.Reply(Response{Error: "unknown action \"dance\""})
	}()
	_, err := Send(context.Background(), path, Request{Kind: KindAction, Action: "dance"})
	assert.EqualError(t, err, "unknown action \"dance\"")
}

func TestMissingKindIsRejectedWithoutTheLoop(t *testing.T) {
	_, path := serve(t)
	_, err := Send(context.Background(), path, Request{})
	assert.EqualError(t, err, "missing required field: kind")
}

func TestCloseReleasesWaitingClients(t *testing.T) {
	s, path := serve(t)
	errs := make(chan error, 1)
	go func() {
		_, err := Send(context.Background(), path, Request{Kind: KindSurfaces})
		errs <- err
	}()
	// Nobody answers, so the call sits in the handler until the server closes
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client still waiting after Close")
	}
}
