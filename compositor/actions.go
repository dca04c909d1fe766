package compositor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BKSalman/buddaraysh/scene"
	"github.com/sirupsen/logrus"
)

type ActionKind int

const (
	ActionNone = ActionKind(iota)
	// Start a program. An empty command starts the terminal
	ActionSpawn
	ActionQuit
	ActionSwitchToWorkspace
	// Ask the focused window to close
	ActionClose
	// Give focus to the next window in focus order
	ActionFocusNext
)

type Action struct {
	Kind    ActionKind
	Command string
	// Zero based
	Workspace int
}

var ErrUnknownAction = errors.New("unknown action")

// ParseAction reads actions like "spawn foot", "workspace 2", "close" or "quit".
// Workspaces are counted from 1 as on the keyboard
func ParseAction(s string) (Action, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "", "none":
		return Action{Kind: ActionNone}, nil
	case "spawn", "run":
		return Action{Kind: ActionSpawn, Command: arg}, nil
	case "quit", "exit":
		return Action{Kind: ActionQuit}, nil
	case "workspace":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return Action{}, fmt.Errorf("%w: workspace needs a number from 1, got %q", ErrUnknownAction, arg)
		}
		return Action{Kind: ActionSwitchToWorkspace, Workspace: n - 1}, nil
	case "close":
		return Action{Kind: ActionClose}, nil
	case "focus-next":
		return Action{Kind: ActionFocusNext}, nil
	default:
		return Action{}, fmt.Errorf("%w %q", ErrUnknownAction, name)
	}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSpawn:
		return strings.TrimSpace("spawn " + a.Command)
	case ActionQuit:
		return "quit"
	case ActionSwitchToWorkspace:
		return fmt.Sprintf("workspace %d", a.Workspace+1)
	case ActionClose:
		return "close"
	case ActionFocusNext:
		return "focus-next"
	default:
		return "none"
	}
}

// perform runs an action on the loop and describes what happened
func (server *Server) perform(a Action) (string, error) {
	logrus.WithField("action", a.String()).Debugln("Performing action")
	switch a.Kind {
	case ActionNone:
		return "Nothing to do", nil
	case ActionSpawn:
		command := a.Command
		if command == "" {
			command = server.conf.Terminal
		}
		if err := server.spawn(command); err != nil {
			return "", err
		}
		return "Running " + command, nil
	case ActionQuit:
		server.requestQuit()
		return "Quitting", nil
	case ActionSwitchToWorkspace:
		o, ok := server.activeOutput()
		if !ok {
			return "", scene.ErrUnknownOutput
		}
		if err := server.switchWorkspace(o, a.Workspace); err != nil {
			return "", err
		}
		return fmt.Sprintf("Output %s shows workspace %d", o.Info.Name, a.Workspace+1), nil
	case ActionClose:
		id := server.seat.KeyboardFocus()
		if id == 0 {
			return "", errors.New("no window has focus")
		}
		if err := server.closeWindow(id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Asked window %d to close", id), nil
	case ActionFocusNext:
		server.focusNext()
		return fmt.Sprintf("Focused window %d", server.seat.KeyboardFocus()), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownAction, a.Kind)
	}
}

// spawn starts a program as a client of this compositor
func (server *Server) spawn(command string) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), "WAYLAND_DISPLAY="+server.dispatcher.SocketName())
	if server.bridge != nil {
		cmd.Env = append(cmd.Env, "DISPLAY="+server.bridge.Display())
	}
	if server.spawner != nil {
		return server.spawner(cmd)
	}
	out := logrus.WithField("command", command).WriterLevel(logrus.DebugLevel)
	cmd.Stdout, cmd.Stderr = out, out
	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("starting %s: %w", parts[0], err)
	}
	go func() {
		defer out.Close()
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exitErr.ExitCode(),
				"command":   command,
			}).Warningln("Bad command completion")
		}
	}()
	return nil
}
