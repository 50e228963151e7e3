package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console reads a human participant's turns line by line.
//
// A single goroutine, started on the first ReadLine, owns the input. A line
// typed while no ReadLine is waiting is held for the next call, so a read
// abandoned on cancellation never loses input. Close stops the goroutine
// once its pending read returns; it does not close the underlying reader.
type Console struct {
	in     *bufio.Reader
	out    io.Writer
	prompt string

	start sync.Once
	lines chan lineResult
	done  chan struct{}
	close sync.Once
	err   error
}

// NewConsole reads from in and writes the prompt to out. A nil out
// suppresses the prompt.
func NewConsole(in io.Reader, out io.Writer, prompt string) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		in:     bufio.NewReader(in),
		out:    out,
		prompt: prompt,
		lines:  make(chan lineResult),
		done:   make(chan struct{}),
	}
}

type lineResult struct {
	line string
	err  error
}

// readLoop sends every line on c.lines until the input fails or the
// console is closed. The terminal error is kept in c.err.
func (c *Console) readLoop() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.lines <- lineResult{line: strings.TrimRight(line, "\r\n")}:
		case <-c.done:
			return
		}
	}
}

// ReadLine prints the prompt and returns the next line without its line
// ending. io.EOF is returned once input is exhausted and no text is left.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.start.Do(func() { go c.readLoop() })
	fmt.Fprint(c.out, c.prompt)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", io.ErrClosedPipe
	case r, ok := <-c.lines:
		if !ok {
			return "", c.err
		}
		return r.line, r.err
	}
}

// Close releases the reader goroutine. Further reads fail.
func (c *Console) Close() error {
	c.close.Do(func() { close(c.done) })
	return nil
}
