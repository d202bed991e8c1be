package bridge

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rubberhead/serial-communicator/pkg/wire"
)

// duplexEnd is one side of an in-memory bidirectional stream.
type duplexEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e duplexEnd) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e duplexEnd) Write(p []byte) (int, error) { return e.w.Write(p) }

func newDuplex() (duplexEnd, duplexEnd) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return duplexEnd{r: ar, w: aw}, duplexEnd{r: br, w: bw}
}

// fakeFirmware answers the handshake and then echoes every received line
// prefixed with "ack:".
func fakeFirmware(t *testing.T, end duplexEnd, wg *sync.WaitGroup) {
	t.Helper()
	wg.Add(1)

	go func() {
		defer wg.Done()
		in := bufio.NewReader(end)

		hello, err := in.ReadString('\n')
		if err != nil || hello != helloMsg+"\n" {
			t.Errorf("firmware got hello %q (err %v)", hello, err)
			return
		}

		if _, err := io.WriteString(end, replyMsg+"\n"); err != nil {
			t.Errorf("firmware failed to reply: %v", err)
			return
		}

		echo, err := in.ReadString('\n')
		if err != nil || echo != replyMsg+"\n" {
			t.Errorf("firmware got echo %q (err %v)", echo, err)
			return
		}

		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}

			if _, err := io.WriteString(end, "ack:"+line); err != nil {
				return
			}
		}
	}()
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	local, remote := newDuplex()
	var wg sync.WaitGroup
	fakeFirmware(t, remote, &wg)

	conn := wire.NewConn(local)
	err := Handshake(context.Background(), conn, 1, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the firmware goroutine exits once its side closes
	local.w.Close()
	wg.Wait()
}

func TestHandshakeMismatch(t *testing.T) {
	t.Parallel()

	local, remote := newDuplex()
	go func() {
		in := bufio.NewReader(remote)
		for {
			if _, err := in.ReadString('\n'); err != nil {
				return
			}
			if _, err := io.WriteString(remote, "NOT THE DEVICE\n"); err != nil {
				return
			}
		}
	}()

	conn := wire.NewConn(local)
	err := Handshake(context.Background(), conn, 3, zerolog.Nop())
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("unexpected error: %v", err)
	}

	local.w.Close()
}

func TestHandshakeCanceled(t *testing.T) {
	t.Parallel()

	local, _ := newDuplex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := wire.NewConn(local)
	err := Handshake(ctx, conn, 10, zerolog.Nop())
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBridgeRelaysLines(t *testing.T) {
	t.Parallel()

	local, remote := newDuplex()
	var wg sync.WaitGroup
	fakeFirmware(t, remote, &wg)

	conn := wire.NewConn(local)
	if err := Handshake(context.Background(), conn, 1, zerolog.Nop()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	var out strings.Builder
	b := &Bridge{
		Conn: conn,
		In:   strings.NewReader("e2e4\ne7e5\n"),
		Out:  &out,
		Log:  zerolog.Nop(),
	}

	// the final EOF iteration forwards an empty line and relays its ack
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.String() != "ack:e2e4ack:e7e5ack:" {
		t.Errorf("unexpected output %q", out.String())
	}

	local.w.Close()
	wg.Wait()
}

func TestBridgeStopsOnCancel(t *testing.T) {
	t.Parallel()

	local, _ := newDuplex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Bridge{
		Conn: wire.NewConn(local),
		In:   strings.NewReader("unused\n"),
		Out:  io.Discard,
		Log:  zerolog.Nop(),
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop on cancellation")
	}
}
