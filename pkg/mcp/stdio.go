package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

const maxFrameSize = 4 * 1024 * 1024

// StdioTransport runs an MCP server as a subprocess and frames JSON-RPC
// messages as newline-delimited JSON on its stdin/stdout.
type StdioTransport struct {
	command string
	args    []string
	logger  zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	recv  chan []byte

	closeOnce sync.Once
}

// NewStdioTransport prepares a subprocess transport. The process starts on
// Start and is killed on Close.
func NewStdioTransport(command string, args []string, logger zerolog.Logger) *StdioTransport {
	return &StdioTransport{
		command: command,
		args:    args,
		logger:  logger.With().Str("transport", "stdio").Logger(),
		recv:    make(chan []byte, 16),
	}
}

// StdioDialer returns a Dialer that spawns a fresh subprocess per attempt.
func StdioDialer(command string, args []string, logger zerolog.Logger) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return NewStdioTransport(command, args, logger), nil
	})
}

// Start launches the subprocess and the stdout reader.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("mcp: stdio transport already started")
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readLoop(stdout)
	t.logger.Debug().Str("command", t.command).Int("pid", cmd.Process.Pid).Msg("MCP subprocess started")
	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.recv)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		t.recv <- line
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn().Err(err).Msg("MCP subprocess stdout closed")
	}
	_ = t.cmd.Wait()
}

// Send writes one newline-framed message to the subprocess.
func (t *StdioTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return fmt.Errorf("mcp: stdio transport not started")
	}
	if _, err := t.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("mcp: write to subprocess: %w", err)
	}
	return nil
}

// Receive returns the inbound frame channel.
func (t *StdioTransport) Receive() <-chan []byte {
	return t.recv
}

// Close kills the subprocess. The receive channel closes when stdout drains.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			err = t.cmd.Process.Kill()
		}
	})
	return err
}
