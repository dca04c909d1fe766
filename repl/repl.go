// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Handles a line no command claimed
type MessageHandler func(string, *Repl) (string, error)

// Handles a registered command. Args are the words after the command name
type CommandHandler func(args []string, r *Repl) (string, error)

// Returned by a handler to end the repl after its result is written
var ErrStop = errors.New("repl stopped")

// ReadCloser combines the Reader and Closer interfaces
type ReadCloser interface {
	io.Reader
	io.Closer
}

type command struct {
	usage   string
	handler CommandHandler
}

type Repl struct {
	Input  ReadCloser
	Output io.WriteCloser
	// Written before every line is read. Empty means no prompt
	Prompt   string
	commands map[string]command
	scanner  *bufio.Scanner
	writer   *bufio.Writer
}

// Creates a new repl
// If no input is given, stdin will be used
// If no output is given, stdout will be used
// Note: The given reader and writer will be closed if the repl is started and then stops
func NewRepl(in ReadCloser, out io.WriteCloser) *Repl {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Repl{
		Input:    in,
		Output:   out,
		commands: make(map[string]command),
		scanner:  bufio.NewScanner(in),
		writer:   bufio.NewWriter(out),
	}
}

// Handle registers a command. Usage is shown by help
func (r *Repl) Handle(name, usage string, handler CommandHandler) {
	r.commands[name] = command{usage: usage, handler: handler}
}

// Usage lists every registered command
func (r *Repl) Usage() string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	var b strings.Builder
	b.WriteString("Commands:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n\t%s", r.commands[name].usage)
	}
	return b.String()
}

// Starts the repl
// Blocks execution until the input ends or a handler returns ErrStop
// Lines are dispatched by their first word to registered commands, the rest goes to fallback.
// Handler errors are printed and the repl carries on. Write errors stop it
func (r *Repl) Run(fallback MessageHandler) error {
	defer r.Close()
	for {
		if r.Prompt != "" {
			if err := r.write(r.Prompt, false); err != nil {
				return err
			}
		}
		if !r.scanner.Scan() {
			return r.scanner.Err()
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		res, err := r.dispatch(line, fallback)
		stop := errors.Is(err, ErrStop)
		if err != nil && !stop {
			res = fmt.Sprintf("Error: %v", err)
		}
		if res != "" {
			if werr := r.write(res, true); werr != nil {
				return werr
			}
		}
		if stop {
			return nil
		}
	}
}

func (r *Repl) dispatch(line string, fallback MessageHandler) (string, error) {
	fields := strings.Fields(line)
	if cmd, ok := r.commands[fields[0]]; ok {
		return cmd.handler(fields[1:], r)
	}
	if fields[0] == "help" {
		return r.Usage(), nil
	}
	if fallback != nil {
		return fallback(line, r)
	}
	return fmt.Sprintf("Unknown command %q, try help", fields[0]), nil
}

func (r *Repl) write(s string, newline bool) error {
	if newline {
		s += "\n"
	}
	if _, err := r.writer.WriteString(s); err != nil {
		return fmt.Errorf("failed to write result %q: %w", s, err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close stops the repl if it was still running
// This will also close the reader and writer
func (r *Repl) Close() {
	r.Input.Close()
	r.Output.Close()
}
