package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ReadyMessage is the literal success token a worker writes on its readiness
// pipe once it has finished initializing.
const ReadyMessage = "init ok"

// ReadinessChannel is a one-shot, one-directional startup signal. It carries
// exactly one message: the success token or a free-text error. It is not a
// general-purpose queue.
type ReadinessChannel struct {
	ch   chan string
	once sync.Once
}

// NewReadinessChannel constructs an unused readiness channel.
func NewReadinessChannel() *ReadinessChannel {
	return &ReadinessChannel{ch: make(chan string, 1)}
}

// Send delivers the single readiness message. Later calls are ignored.
func (c *ReadinessChannel) Send(state string) {
	c.once.Do(func() {
		c.ch <- state
		close(c.ch)
	})
}

// Recv blocks until the readiness message arrives or ctx expires.
func (c *ReadinessChannel) Recv(ctx context.Context) (string, error) {
	select {
	case state, ok := <-c.ch:
		if !ok {
			return "", io.EOF
		}
		return state, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// NotifyFile returns a readiness channel whose single message is written as
// one line to f, then f is closed. Used when this process was itself spawned
// with an inherited readiness pipe.
func NotifyFile(f *os.File) *ReadinessChannel {
	ch := NewReadinessChannel()
	go func() {
		defer f.Close()
		state, err := ch.Recv(context.Background())
		if err != nil {
			return
		}
		fmt.Fprintln(f, state)
	}()
	return ch
}

// watchPipe reads a single line from a worker's readiness pipe and forwards
// it. A pipe that closes without a line means the worker died before
// reporting.
func watchPipe(r io.ReadCloser, ch *ReadinessChannel) {
	defer r.Close()

	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && err != io.EOF {
			ch.Send("readiness pipe error: " + err.Error())
			return
		}
		ch.Send("worker exited before reporting readiness")
		return
	}
	ch.Send(line)
}
