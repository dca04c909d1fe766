package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/compositor"
	"github.com/BKSalman/buddaraysh/repl"
	"github.com/BKSalman/buddaraysh/util"
	"github.com/BKSalman/buddaraysh/util/wrappers"
	"github.com/sirupsen/logrus"
)

// caller is what the repl needs from the compositor. Tests hand in a fake
type caller interface {
	Call(ctx context.Context, req ipc.Request) (ipc.Response, error)
}

var _ caller = (*compositor.Server)(nil)

// replRunner serves stdin until it is told to quit or ctx ends
func replRunner(ctx context.Context, server caller) error {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := newCommandRepl(ctx, server, repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout)))
	commandRepl.Prompt = "> "
	logrus.Debugln("Starting repl")

	done := make(chan error, 1)
	go func() {
		done <- commandRepl.Run(nil)
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, wrappers.ErrClosed) {
			logrus.WithError(err).Warnln("Repl stopped")
		}
		return nil
	case <-ctx.Done():
		// The read blocked on stdin cannot be interrupted. Detach and leave it behind
		commandRepl.Close()
		return nil
	}
}

func newCommandRepl(ctx context.Context, server caller, r *repl.Repl) *repl.Repl {
	action := func(name string) repl.CommandHandler {
		return func(args []string, _ *repl.Repl) (string, error) {
			resp, err := server.Call(ctx, ipc.Request{Kind: ipc.KindAction, Action: name, Arg: strings.Join(args, " ")})
			if err != nil {
				return "", err
			}
			return resp.Message, nil
		}
	}

	r.Handle("run", "run <cmd>: start cmd inside the compositor", func(args []string, r *repl.Repl) (string, error) {
		if len(args) == 0 {
			return "", errors.New("run needs a command")
		}
		return action("spawn")(args, r)
	})
	r.Handle("quit", "quit: stop the compositor", func(args []string, r *repl.Repl) (string, error) {
		msg, err := action("quit")(nil, r)
		if err != nil && !errors.Is(err, ipc.ErrClosed) {
			return "", err
		}
		if msg == "" {
			msg = "Quitting"
		}
		return msg, repl.ErrStop
	})
	r.Handle("workspace", "workspace <n>: switch the focused output to workspace n", func(args []string, r *repl.Repl) (string, error) {
		if len(args) != 1 {
			return "", errors.New("workspace needs exactly one number")
		}
		return action("workspace")(args, r)
	})
	r.Handle("close", "close: ask the focused window to close", action("close"))
	r.Handle("focus-next", "focus-next: focus the next window", action("focus-next"))
	r.Handle("inspect", "inspect <outputs|surfaces|cursor [mode]|seat> [name]", func(args []string, _ *repl.Repl) (string, error) {
		var target, mod string
		util.Unpack(args, &target, &mod)
		logrus.WithFields(logrus.Fields{
			"target": target,
			"mod":    mod,
		}).Debugln("Parsed inspect command")
		return inspect(ctx, server, target, mod)
	})
	return r
}

func inspect(ctx context.Context, server caller, target, mod string) (string, error) {
	switch target {
	case "outputs":
		resp, err := server.Call(ctx, ipc.Request{
			Kind:    ipc.KindOutputs,
			Outputs: &ipc.OutputRequest{IncludeModes: mod != "", TargetOutput: mod},
		})
		if err != nil {
			return "", err
		}
		return formatOutputs(resp.Outputs), nil
	case "surfaces":
		resp, err := server.Call(ctx, ipc.Request{Kind: ipc.KindSurfaces})
		if err != nil {
			return "", err
		}
		return formatSurfaces(resp.Surfaces), nil
	case "cursor", "seat":
		resp, err := server.Call(ctx, ipc.Request{Kind: ipc.KindSeat})
		if err != nil {
			return "", err
		}
		s := resp.Seat
		if s == nil {
			return "", errors.New("compositor sent no seat state")
		}
		if target == "seat" {
			return fmt.Sprintf("Seat: pointer focus %d, keyboard focus %d, modifiers %#x", s.PointerFocus, s.KeyboardFocus, s.Modifiers), nil
		}
		if mod == "mode" {
			return "Cursor mode: " + s.CursorMode, nil
		}
		return fmt.Sprintf("Cursor: Location (%f:%f)", s.CursorX, s.CursorY), nil
	default:
		return "", fmt.Errorf("unknown inspect target %q", target)
	}
}

func formatOutputs(resp *ipc.OutputResponse) string {
	if resp == nil || resp.OutputsFound == 0 {
		return "No outputs"
	}
	var b strings.Builder
	for i, o := range resp.Outputs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Output %s: %dx%d@%d at (%d,%d) scale %d, %s, workspace %d",
			o.Name, o.Width, o.Height, o.Refresh, o.X, o.Y, o.Scale, o.State, o.Workspace)
		for _, m := range resp.OutputModes[o.Name] {
			fmt.Fprintf(&b, "\n\t- %dx%d@%d%s", m.Width, m.Height, m.RefreshRate, modeNote(m))
		}
	}
	return b.String()
}

func modeNote(m ipc.OutputMode) string {
	switch {
	case m.Current && m.Preferred:
		return " (current, preferred)"
	case m.Current:
		return " (current)"
	case m.Preferred:
		return " (preferred)"
	}
	return ""
}

func formatSurfaces(surfaces []ipc.SurfaceInfo) string {
	if len(surfaces) == 0 {
		return "No surfaces"
	}
	var b strings.Builder
	for i, s := range surfaces {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Surface %d (%s) client %d: %dx%d at (%d,%d)", s.ID, s.Role, s.Client, s.Width, s.Height, s.X, s.Y)
		if s.Title != "" {
			fmt.Fprintf(&b, " %q", s.Title)
		}
		if !s.Visible {
			b.WriteString(" hidden")
		}
	}
	return b.String()
}
