package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/compositor"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error %s: %s\n", msg, err)
	code := compositor.ExitCode(err)
	if code == compositor.ExitClean {
		code = compositor.ExitError
	}
	os.Exit(code)
}

func wlMain(ctx context.Context, conf *config.Config) error {
	// start the server
	server, err := compositor.NewServer(compositor.Options{Config: conf})
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logrus.WithError(err).Warnln("Teardown was not clean")
		}
	}()
	if err = server.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// start the event loop. Whatever else runs alongside ends with it
	g.Go(func() error {
		defer cancel()
		if err := server.Run(ctx); err != nil {
			return fmt.Errorf("running server: %w", err)
		}
		return nil
	})

	switch conf.StartType() {
	case config.START_REPL:
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			logrus.Infoln("Stdin is not a terminal, not starting the repl")
			break
		}
		g.Go(func() error {
			return replRunner(ctx, server)
		})
	case config.START_SINGLE_COMMAND:
		g.Go(func() error {
			resp, err := server.Call(ctx, ipc.Request{
				Kind:   ipc.KindAction,
				Action: "spawn",
				Arg:    conf.StartCommand,
			})
			if err != nil {
				logrus.WithError(err).WithField("command", conf.StartCommand).Errorln("Start command failed")
				return nil
			}
			logrus.WithField("command", conf.StartCommand).Infoln(resp.Message)
			return nil
		})
	case config.START_NONE:
	}

	return g.Wait()
}
