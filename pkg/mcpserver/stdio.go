package mcpserver

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// ServeStdio processes newline-framed JSON-RPC messages from r and writes
// responses to w until r ends or ctx is cancelled. This is the direct,
// single-process mode: the bridge spawns this process and speaks over pipes.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	write := func(payload []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, _ = w.Write(append(payload, '\n'))
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			if len(line) == 0 {
				continue
			}
			if resp := s.Handle(ctx, line); resp != nil {
				write(resp)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
