package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestConsoleReadLine(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("hello there\r\nlast line"), &out, "Your response: ")

	for _, want := range []string{"hello there", "last line"} {
		got, err := c.ReadLine(context.Background())
		if err != nil {
			t.Fatalf("ReadLine failed: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := c.ReadLine(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
	if strings.Count(out.String(), "Your response: ") != 3 {
		t.Errorf("prompt should be printed before every read, got %q", out.String())
	}
}

func TestConsoleReadLineCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	c := NewConsole(r, nil, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.ReadLine(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestConsoleKeepsLineAfterCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(r, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadLine(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if _, err := c.ReadLine(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go w.Write([]byte("still here\n"))
	got, err := c.ReadLine(context.Background())
	if err != nil || got != "still here" {
		t.Errorf("line typed after a canceled read should be kept, got %q, %v", got, err)
	}
}

func TestConsoleClose(t *testing.T) {
	r, w := io.Pipe()
	c := NewConsole(r, nil, "")
	go w.Write([]byte("first\n"))
	if _, err := c.ReadLine(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Close()
	c.Close()
	w.Close()
	if _, err := c.ReadLine(context.Background()); err == nil {
		t.Error("read after Close should fail")
	}
}
