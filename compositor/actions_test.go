package compositor

import (
	"testing"

	"github.com/BKSalman/buddaraysh/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"", Action{Kind: ActionNone}},
		{"spawn", Action{Kind: ActionSpawn}},
		{"spawn foot --server", Action{Kind: ActionSpawn, Command: "foot --server"}},
		{"run  weston-terminal ", Action{Kind: ActionSpawn, Command: "weston-terminal"}},
		{"Quit", Action{Kind: ActionQuit}},
		{"workspace 1", Action{Kind: ActionSwitchToWorkspace, Workspace: 0}},
		{"workspace 9", Action{Kind: ActionSwitchToWorkspace, Workspace: 8}},
		{"close", Action{Kind: ActionClose}},
		{"focus-next", Action{Kind: ActionFocusNext}},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"workspace", "workspace 0", "workspace two", "dance"} {
		_, err := ParseAction(bad)
		assert.ErrorIs(t, err, ErrUnknownAction, bad)
	}
}

func TestActionStringParsesBack(t *testing.T) {
	for _, a := range []Action{
		{Kind: ActionSpawn, Command: "foot"},
		{Kind: ActionQuit},
		{Kind: ActionSwitchToWorkspace, Workspace: 3},
		{Kind: ActionClose},
		{Kind: ActionFocusNext},
	} {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestDefaultKeybindingsParse(t *testing.T) {
	bindings, err := parseBindings(config.DefaultKeybindings())
	require.NoError(t, err)
	assert.Len(t, bindings, len(config.DefaultKeybindings()))

	_, err = parseBindings(map[string]string{"hyper": "quit"})
	assert.Error(t, err)
	_, err = parseBindings(map[string]string{"f2": "dance"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestSpawnAddsDisplayToEnvironment(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.addOutput(1, 800, 600)

	msg, err := ts.perform(Action{Kind: ActionSpawn, Command: "foot -e htop"})
	require.NoError(t, err)
	assert.Equal(t, "Running foot -e htop", msg)
	require.Len(t, ts.spawned, 1)
	assert.Equal(t, []string{"foot", "-e", "htop"}, ts.spawned[0].Args)
	assert.Contains(t, ts.spawned[0].Env, "WAYLAND_DISPLAY="+ts.SocketName())

	_, err = ts.perform(Action{Kind: ActionClose})
	assert.Error(t, err, "nothing has focus")
}
