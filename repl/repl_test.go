package repl

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buffer struct {
	strings.Builder
	closed bool
}

func (b *buffer) Close() error {
	b.closed = true
	return nil
}

func newTestRepl(input string) (*Repl, *buffer) {
	out := &buffer{}
	return NewRepl(io.NopCloser(strings.NewReader(input)), out), out
}

func TestCommandsAreDispatchedByFirstWord(t *testing.T) {
	r, out := newTestRepl("echo a  b\n\nnope\n")
	var got [][]string
	r.Handle("echo", "echo <words>", func(args []string, _ *Repl) (string, error) {
		got = append(got, args)
		return strings.Join(args, ","), nil
	})

	require.NoError(t, r.Run(nil))
	assert.Equal(t, [][]string{{"a", "b"}}, got)
	assert.Equal(t, "a,b\nUnknown command \"nope\", try help\n", out.String())
	assert.True(t, out.closed)
}

func TestFallbackSeesWholeLine(t *testing.T) {
	r, out := newTestRepl("  hello there \n")
	require.NoError(t, r.Run(func(in string, _ *Repl) (string, error) {
		return "<" + in + ">", nil
	}))
	assert.Equal(t, "<hello there>\n", out.String())
}

func TestHandlerErrorsDoNotStopTheRepl(t *testing.T) {
	r, out := newTestRepl("fail\nfail\n")
	calls := 0
	r.Handle("fail", "fail", func([]string, *Repl) (string, error) {
		calls++
		return "", errors.New("nope")
	})
	require.NoError(t, r.Run(nil))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Error: nope\nError: nope\n", out.String())
}

func TestErrStopEndsAfterWritingResult(t *testing.T) {
	r, out := newTestRepl("quit\nnever\n")
	r.Prompt = "> "
	r.Handle("quit", "quit", func([]string, *Repl) (string, error) {
		return "Quitting", ErrStop
	})
	require.NoError(t, r.Run(func(string, *Repl) (string, error) {
		t.Fatal("lines after quit must not be read")
		return "", nil
	}))
	assert.Equal(t, "> Quitting\n", out.String())
}

func TestHelpListsCommandsSorted(t *testing.T) {
	r, out := newTestRepl("help\n")
	r.Handle("quit", "quit", nil)
	r.Handle("close", "close", nil)
	require.NoError(t, r.Run(nil))
	assert.Equal(t, "Commands:\n\tclose\n\tquit\n", out.String())
}
