package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/BKSalman/buddaraysh/repl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	requests []ipc.Request
	answer   func(ipc.Request) (ipc.Response, error)
}

func (f *fakeCaller) Call(_ context.Context, req ipc.Request) (ipc.Response, error) {
	f.requests = append(f.requests, req)
	if f.answer == nil {
		return ipc.Response{OK: true}, nil
	}
	return f.answer(req)
}

type nopWriteCloser struct {
	strings.Builder
}

func (*nopWriteCloser) Close() error { return nil }

func runRepl(t *testing.T, server caller, input string) string {
	t.Helper()
	out := &nopWriteCloser{}
	r := newCommandRepl(context.Background(), server, repl.NewRepl(io.NopCloser(strings.NewReader(input)), out))
	require.NoError(t, r.Run(nil))
	return out.String()
}

func TestReplCommandsBecomeActions(t *testing.T) {
	fake := &fakeCaller{answer: func(req ipc.Request) (ipc.Response, error) {
		return ipc.Response{OK: true, Message: req.Action + ":" + req.Arg}, nil
	}}
	out := runRepl(t, fake, "run foot -e htop\nworkspace 3\nclose\nfocus-next\n")

	assert.Equal(t, []ipc.Request{
		{Kind: ipc.KindAction, Action: "spawn", Arg: "foot -e htop"},
		{Kind: ipc.KindAction, Action: "workspace", Arg: "3"},
		{Kind: ipc.KindAction, Action: "close"},
		{Kind: ipc.KindAction, Action: "focus-next"},
	}, fake.requests)
	assert.Equal(t, "spawn:foot -e htop\nworkspace:3\nclose:\nfocus-next:\n", out)
}

func TestReplValidatesArguments(t *testing.T) {
	fake := &fakeCaller{}
	out := runRepl(t, fake, "run\nworkspace\nworkspace 1 2\n")
	assert.Empty(t, fake.requests)
	assert.Equal(t, "Error: run needs a command\n"+
		"Error: workspace needs exactly one number\n"+
		"Error: workspace needs exactly one number\n", out)
}

func TestReplQuitStops(t *testing.T) {
	fake := &fakeCaller{answer: func(ipc.Request) (ipc.Response, error) {
		return ipc.Response{}, ipc.ErrClosed
	}}
	out := runRepl(t, fake, "quit\nclose\n")
	require.Len(t, fake.requests, 1)
	assert.Equal(t, "quit", fake.requests[0].Action)
	assert.Equal(t, "Quitting\n", out)
}

func TestReplInspect(t *testing.T) {
	fake := &fakeCaller{answer: func(req ipc.Request) (ipc.Response, error) {
		switch req.Kind {
		case ipc.KindSeat:
			return ipc.Response{OK: true, Seat: &ipc.SeatInfo{CursorX: 1.5, CursorY: 2, CursorMode: "Move", KeyboardFocus: 7}}, nil
		case ipc.KindSurfaces:
			return ipc.Response{OK: true, Surfaces: []ipc.SurfaceInfo{{ID: 7, Client: 1, Role: "toplevel", Title: "foot", Width: 10, Height: 20}}}, nil
		case ipc.KindOutputs:
			if req.Outputs.TargetOutput == "nope" {
				return ipc.Response{}, errors.New("unknown output")
			}
			return ipc.Response{OK: true, Outputs: &ipc.OutputResponse{
				Outputs:      []ipc.OutputInfo{{Name: "WL-1", Width: 800, Height: 600, Refresh: 60000, Scale: 1, State: "enabled"}},
				OutputModes:  map[string][]ipc.OutputMode{"WL-1": {{Width: 800, Height: 600, RefreshRate: 60000, Current: true}}},
				OutputsFound: 1,
			}}, nil
		}
		return ipc.Response{}, errors.New("unexpected")
	}}
	out := runRepl(t, fake, "inspect cursor\ninspect cursor mode\ninspect seat\ninspect surfaces\ninspect outputs WL-1\ninspect outputs nope\ninspect keyboards\n")
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Equal(t, []string{
		"Cursor: Location (1.500000:2.000000)",
		"Cursor mode: Move",
		"Seat: pointer focus 0, keyboard focus 7, modifiers 0x0",
		`Surface 7 (toplevel) client 1: 10x20 at (0,0) "foot" hidden`,
		"Output WL-1: 800x600@60000 at (0,0) scale 1, enabled, workspace 0",
		"\t- 800x600@60000 (current)",
		"Error: unknown output",
		`Error: unknown inspect target "keyboards"`,
	}, lines)
	assert.True(t, fake.requests[4].Outputs.IncludeModes)
}

func TestSplitDistanceAddsUp(t *testing.T) {
	steps := splitDistance(100, -7, 3)
	require.Len(t, steps, 3)
	var x, y int32
	for _, s := range steps {
		x += s[0]
		y += s[1]
	}
	assert.Equal(t, int32(100), x)
	assert.Equal(t, int32(-7), y)
	assert.Equal(t, [2]int32{33, -2}, steps[0])
}

func TestToolRows(t *testing.T) {
	resp := &ipc.OutputResponse{
		Outputs: []ipc.OutputInfo{{Name: "DP-1", Make: "ACME", X: 1920, Width: 2560, Height: 1440, Refresh: 143912, Scale: 2, State: "enabled", Workspace: 3}},
		OutputModes: map[string][]ipc.OutputMode{"DP-1": {
			{Width: 2560, Height: 1440, RefreshRate: 143912, Current: true, Preferred: true},
			{Width: 1920, Height: 1080, RefreshRate: 60000},
		}},
		OutputsFound: 1,
	}
	assert.Equal(t, [][]string{{"DP-1", "ACME", "", "1920,0", "2560x1440", "143.91 Hz", "2", "enabled", "3"}}, outputRows(resp))
	assert.Equal(t, [][]string{
		{"2560x1440", "143.91 Hz", "current, preferred"},
		{"1920x1080", "60.00 Hz", ""},
	}, modeRows(resp, "DP-1"))
	assert.Nil(t, modeRows(resp, "HDMI-A-1"))
	assert.Nil(t, outputRows(nil))

	rows := surfaceRows([]ipc.SurfaceInfo{{ID: 4, Client: 2, Role: "bridged", Legacy: true, Width: 5, Height: 6, X: 7, Y: 8, Visible: true, Workspace: 1}})
	assert.Equal(t, [][]string{{"4", "2", "bridged (X11)", "", "", "5x6+7+8", "1", "◀"}}, rows)
	assert.Contains(t, renderTable([]string{"ID"}, [][]string{{"4"}}, -1), "4")
	assert.Contains(t, renderTable([]string{"ID"}, nil, -1), "Nothing to show")
}

func TestControlSocketNeedsACompositor(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")
	_, err := controlSocket(&config.Config{})
	assert.Error(t, err)

	t.Setenv("WAYLAND_DISPLAY", "wayland-3")
	path, err := controlSocket(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "buddaraysh.wayland-3.sock", filepath.Base(path))

	path, err = controlSocket(&config.Config{SocketName: "wayland-9"})
	require.NoError(t, err)
	assert.Equal(t, "buddaraysh.wayland-9.sock", filepath.Base(path))
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("layout = \"floating\"\nworkspaces = 4\nbackend = \"nested-legacy\"\n"), 0o600))

	require.NoError(t, runCmd.ParseFlags([]string{"--config", path, "--backend", "direct"}))
	conf, err := loadConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "direct", conf.Backend)
	assert.Equal(t, config.LayoutFloating, conf.Layout)
	assert.Equal(t, 4, conf.Workspaces)
	assert.Equal(t, "repl", conf.Start)
	assert.True(t, conf.Xwayland)
}
