package wait

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcHandler struct {
	kind Kind
	fn   func() (bool, error)
}

func (h *funcHandler) Kind() Kind              { return h.kind }
func (h *funcHandler) HandleIO() (bool, error) { return h.fn() }

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newPipe(t *testing.T) (r, w *fdio.File) {
	t.Helper()
	r, w, err := fdio.Pipe("test")
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	if err := r.SetNonblock(true); err != nil {
		t.Fatalf("SetNonblock failed: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

// drainHandler reads f until EOF, then closes it.
func drainHandler(f *fdio.File, got *[]byte) *funcHandler {
	return &funcHandler{kind: KindInbound, fn: func() (bool, error) {
		var buf [8]byte
		n, err := f.Read(buf[:])
		*got = append(*got, buf[:n]...)
		switch {
		case errors.Is(err, fdio.ErrWouldBlock):
			return false, nil
		case err != nil:
			_ = f.Close()
			return true, nil
		}
		return false, nil
	}}
}

func TestWaitCompletesOnce(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)

	if _, err := w.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = w.Close()

	var got []byte
	if err := c.Register(r, drainHandler(r, &got), 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !c.Pending() {
		t.Error("expected context to be pending after Register")
	}

	calls := 0
	c.OnDone(func(err error) {
		calls++
		if err != nil {
			t.Errorf("OnDone got error %v", err)
		}
	})

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait failed: %v", err)
	}

	if string(got) != "hello world" {
		t.Errorf("read %q, want %q", got, "hello world")
	}
	if calls != 1 {
		t.Errorf("OnDone called %d times, want 1", calls)
	}
	if c.Pending() {
		t.Error("expected pending to be cleared")
	}
	if c.Live() != 0 {
		t.Errorf("Live = %d, want 0", c.Live())
	}
}

func TestWaitEmptyContext(t *testing.T) {
	c := newTestContext(t)

	done := false
	c.OnDone(func(error) { done = true })

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !done {
		t.Error("expected OnDone for an empty context")
	}
}

func TestWaitDispatchesInTableOrder(t *testing.T) {
	c := newTestContext(t)

	var order []int
	for i := range 3 {
		r, w := newPipe(t)
		if _, err := w.Write([]byte{'x'}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		h := &funcHandler{kind: KindInbound, fn: func() (bool, error) {
			order = append(order, i)
			_ = r.Close()
			return true, nil
		}}
		if err := c.Register(r, h, 1, Read); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("dispatch order = %v, want [0 1 2]", order)
	}
}

func TestWaitWritable(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)
	if err := w.SetNonblock(true); err != nil {
		t.Fatalf("SetNonblock failed: %v", err)
	}

	payload := []byte("payload")
	h := &funcHandler{kind: KindOutbound, fn: func() (bool, error) {
		if len(payload) == 0 {
			_ = w.Close()
			return true, nil
		}
		n, err := w.Write(payload)
		if err != nil {
			return false, err
		}
		payload = payload[n:]
		return false, nil
	}}
	if err := c.Register(w, h, 1, Write); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Errorf("read %q, want %q", buf[:n], "payload")
	}
}

func TestHandlerErrorClosesEverything(t *testing.T) {
	c := newTestContext(t)

	r1, w1 := newPipe(t)
	r2, _ := newPipe(t)
	if _, err := w1.Write([]byte{'x'}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	boom := errors.New("boom")
	failing := &funcHandler{kind: KindStatus, fn: func() (bool, error) { return false, boom }}
	idle := &funcHandler{kind: KindInbound, fn: func() (bool, error) {
		t.Error("idle handler should not run")
		return false, nil
	}}

	if err := c.Register(r1, failing, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := c.Register(r2, idle, 2, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var doneErr error
	c.OnDone(func(err error) { doneErr = err })

	err := c.Wait(context.Background())
	if !gpgerr.Is(err, gpgerr.IOFailure) {
		t.Fatalf("Wait error = %v, want IO_FAILURE", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected handler error in chain, got %v", err)
	}
	if doneErr != err {
		t.Errorf("OnDone got %v, want %v", doneErr, err)
	}
	if !r1.Closed() || !r2.Closed() {
		t.Error("expected every registered descriptor to be closed")
	}
	if c.Pending() {
		t.Error("expected pending to be cleared after failure")
	}
}

func TestHandlerCodedErrorSurfaced(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)
	if _, err := w.Write([]byte{'x'}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	h := &funcHandler{kind: KindStatus, fn: func() (bool, error) {
		return false, gpgerr.New(gpgerr.NoPassphrase, "no passphrase")
	}}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Wait(context.Background()); !gpgerr.Is(err, gpgerr.NoPassphrase) {
		t.Errorf("Wait error = %v, want NO_PASSPHRASE", err)
	}
}

func TestCancelInterruptsPoll(t *testing.T) {
	c := newTestContext(t)
	r, _ := newPipe(t)

	h := &funcHandler{kind: KindInbound, fn: func() (bool, error) { return false, nil }}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Cancel()
	}()

	err := c.Wait(context.Background())
	if !gpgerr.Is(err, gpgerr.Canceled) {
		t.Fatalf("Wait error = %v, want CANCELED", err)
	}
	if !r.Closed() {
		t.Error("expected descriptor to be closed on cancel")
	}
}

func TestContextDeadlineCancels(t *testing.T) {
	c := newTestContext(t)
	r, _ := newPipe(t)

	h := &funcHandler{kind: KindInbound, fn: func() (bool, error) { return false, nil }}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Wait(ctx); !gpgerr.Is(err, gpgerr.Canceled) {
		t.Errorf("Wait error = %v, want CANCELED", err)
	}
}

func TestCancelAfterHandler(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)
	if _, err := w.Write([]byte{'x'}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	h := &funcHandler{kind: KindInbound, fn: func() (bool, error) {
		c.Cancel()
		return false, nil
	}}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Wait(context.Background()); !gpgerr.Is(err, gpgerr.Canceled) {
		t.Errorf("Wait error = %v, want CANCELED", err)
	}
}

func TestWaitOnCondition(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)
	if _, err := w.Write([]byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	reads := 0
	h := &funcHandler{kind: KindInbound, fn: func() (bool, error) {
		var b [1]byte
		if _, err := r.Read(b[:]); err == nil {
			reads++
		}
		return false, nil
	}}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.WaitOn(context.Background(), func() bool { return reads >= 1 }); err != nil {
		t.Fatalf("WaitOn failed: %v", err)
	}
	if reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}
	if !c.Pending() {
		t.Error("expected context to remain pending")
	}
}

func TestRegisterRefused(t *testing.T) {
	t.Run("closed descriptor", func(t *testing.T) {
		c := newTestContext(t)
		r, _ := newPipe(t)
		_ = r.Close()

		err := c.Register(r, &funcHandler{kind: KindInbound}, 1, Read)
		if !gpgerr.Is(err, gpgerr.RegistrationFailed) {
			t.Errorf("Register error = %v, want REGISTRATION_FAILED", err)
		}
	})

	t.Run("finished context", func(t *testing.T) {
		c := newTestContext(t)
		if err := c.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		r, _ := newPipe(t)

		err := c.Register(r, &funcHandler{kind: KindInbound}, 1, Read)
		if !gpgerr.Is(err, gpgerr.RegistrationFailed) {
			t.Errorf("Register error = %v, want REGISTRATION_FAILED", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		c := newTestContext(t)
		c.Cancel()
		r, _ := newPipe(t)

		err := c.Register(r, &funcHandler{kind: KindInbound}, 1, Read)
		if !gpgerr.Is(err, gpgerr.RegistrationFailed) {
			t.Errorf("Register error = %v, want REGISTRATION_FAILED", err)
		}
	})
}

func TestResetAfterCompletion(t *testing.T) {
	c := newTestContext(t)
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	r, w := newPipe(t)
	_ = w.Close()
	var got []byte
	if err := c.Register(r, drainHandler(r, &got), 1, Read); err != nil {
		t.Fatalf("Register after Reset failed: %v", err)
	}
	if err := c.Reset(); !gpgerr.Is(err, gpgerr.Busy) {
		t.Errorf("Reset while pending = %v, want BUSY", err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

func TestPollFailureClosesEverything(t *testing.T) {
	c := newTestContext(t)
	r1, _ := newPipe(t)
	r2, _ := newPipe(t)

	var called bool
	h := &funcHandler{kind: KindInbound, fn: func() (bool, error) {
		called = true
		return false, nil
	}}
	for _, r := range []*fdio.File{r1, r2} {
		if err := c.Register(r, h, 1, Read); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	var done error
	c.OnDone(func(err error) { done = err })
	c.poll = func([]unix.PollFd, int) (int, error) { return 0, unix.ENOMEM }

	err := c.Wait(context.Background())
	if !gpgerr.Is(err, gpgerr.IOFailure) {
		t.Fatalf("Wait error = %v, want IO_FAILURE", err)
	}
	if !errors.Is(err, unix.ENOMEM) {
		t.Errorf("poll error not wrapped: %v", err)
	}
	if called {
		t.Error("handler ran after a failed poll")
	}
	if !r1.Closed() || !r2.Closed() {
		t.Error("registered descriptors left open")
	}
	if c.Live() != 0 || c.Pending() {
		t.Errorf("Live() = %d, Pending() = %v after failure", c.Live(), c.Pending())
	}
	if !gpgerr.Is(done, gpgerr.IOFailure) {
		t.Errorf("OnDone got %v, want IO_FAILURE", done)
	}
}

func TestPollInterruptedIsRetried(t *testing.T) {
	c := newTestContext(t)
	r, w := newPipe(t)
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = w.Close()

	var got []byte
	if err := c.Register(r, drainHandler(r, &got), 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	interrupted := 0
	c.poll = func(fds []unix.PollFd, timeout int) (int, error) {
		if interrupted < 2 {
			interrupted++
			return 0, unix.EINTR
		}
		return unix.Poll(fds, timeout)
	}

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if string(got) != "x" || interrupted != 2 {
		t.Errorf("got %q after %d interruptions", got, interrupted)
	}
}

func TestAbortDropsRegistrations(t *testing.T) {
	c := newTestContext(t)
	r, _ := newPipe(t)

	h := &funcHandler{kind: KindStatus, fn: func() (bool, error) { return false, nil }}
	if err := c.Register(r, h, 1, Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cause := gpgerr.New(gpgerr.RegistrationFailed, "second descriptor refused")
	if err := c.Abort(cause); !gpgerr.Is(err, gpgerr.RegistrationFailed) {
		t.Errorf("Abort = %v, want REGISTRATION_FAILED", err)
	}
	if !r.Closed() || c.Pending() {
		t.Errorf("closed = %v, pending = %v after Abort", r.Closed(), c.Pending())
	}
	if err := c.Abort(gpgerr.New(gpgerr.Canceled, "again")); !gpgerr.Is(err, gpgerr.RegistrationFailed) {
		t.Errorf("second Abort = %v, want the first error", err)
	}
	if err := c.Reset(); err != nil {
		t.Errorf("Reset after Abort failed: %v", err)
	}
}
