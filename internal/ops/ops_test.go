package ops

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/process"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/smazurov/gpgrun/internal/wait"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGPG writes a shell script standing in for gpg; st writes one status
// line to the status descriptor.
func fakeGPG(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpg")
	script := "#!/bin/sh\n" +
		"status_fd=$2\n" +
		"shift 2\n" +
		"st() { printf '[GNUPG:] %s\\n' \"$*\" >&\"$status_fd\"; }\n" +
		body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake gpg: %v", err)
	}
	return path
}

func newTestContext(t *testing.T, path string, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{
		WithLogger(testLogger()),
		WithEngineOptions(
			process.WithPath(path),
			process.WithLogger(testLogger()),
			process.WithChildLogger(testLogger()),
			process.WithKillGrace(100*time.Millisecond),
		),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const signScript = `
echo "$*"
cat >/dev/null
st "SIG_CREATED D 17 2 00 1700000000 ABCDEF"`

func TestSign(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, signScript), WithHomedir("/tmp/gnupg"))
	c.SetArmor(true)
	c.SetTextMode(true)
	c.SetVerbosity(2)

	in := data.NewMem([]byte("message"))
	out := data.NewEmpty()

	if err := c.Sign(testContext(t), in, out); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	want := "--homedir /tmp/gnupg --sign --detach --armor --textmode --verbose --verbose\n"
	if got := string(out.Bytes()); got != want {
		t.Errorf("gpg saw args %q, want %q", got, want)
	}

	res := c.SignResult()
	if !res.Okay || res.NoPassphrase {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Created != "D 17 2 00 1700000000 ABCDEF" {
		t.Errorf("Created = %q", res.Created)
	}
	if c.Pending() {
		t.Error("context still pending after Sign")
	}
	if !c.ExitStatus().Success() {
		t.Errorf("exit = %s, want success", c.ExitStatus())
	}
}

func TestSignWithoutOptions(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, signScript))

	out := data.NewEmpty()
	if err := c.Sign(testContext(t), data.NewMem([]byte("m")), out); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if got := string(out.Bytes()); got != "--sign --detach\n" {
		t.Errorf("gpg saw args %q", got)
	}
}

func TestSignMissingPassphrase(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, `
cat >/dev/null
st "NEED_PASSPHRASE ABCDEF ABCDEF 17 0"
st MISSING_PASSPHRASE
exit 2`))

	err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty())
	if !gpgerr.Is(err, gpgerr.NoPassphrase) {
		t.Errorf("Sign error = %v, want NO_PASSPHRASE", err)
	}
}

func TestSignNoSignature(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, `
cat >/dev/null
echo "gpg: signing failed: No secret key" >&2
exit 2`))

	err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty())
	if !gpgerr.Is(err, gpgerr.NoData) {
		t.Fatalf("Sign error = %v, want NO_DATA", err)
	}
	if !strings.Contains(err.Error(), "No secret key") {
		t.Errorf("error does not carry the child's diagnostic: %v", err)
	}
	if c.ExitStatus().Code != 2 {
		t.Errorf("exit = %s, want exit code 2", c.ExitStatus())
	}

	log := c.DiagnosticLog()
	if len(log) != 1 || log[0].Level != "error" || log[0].Message != "signing failed: No secret key" {
		t.Fatalf("DiagnosticLog = %+v", log)
	}
	if got := c.Diagnostics(); len(got) != 1 || got[0] != log[0].Message {
		t.Errorf("Diagnostics = %q", got)
	}
}

func TestSignStartValidation(t *testing.T) {
	c := newTestContext(t, "/nonexistent/gpg")

	tests := []struct {
		name string
		in   Data
		out  Data
		want gpgerr.Code
	}{
		{"nil input", nil, data.NewEmpty(), gpgerr.NoData},
		{"empty input", data.NewEmpty(), data.NewEmpty(), gpgerr.NoData},
		{"nil output", data.NewMem([]byte("m")), nil, gpgerr.InvalidValue},
		{"output not empty", data.NewMem([]byte("m")), data.NewMem([]byte("x")), gpgerr.InvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.SignStart(tt.in, tt.out); !gpgerr.Is(err, tt.want) {
				t.Errorf("SignStart error = %v, want %s", err, tt.want)
			}
			if c.Pending() {
				t.Error("context left pending")
			}
		})
	}
}

func TestSignStartFailsToSpawn(t *testing.T) {
	c := newTestContext(t, filepath.Join(t.TempDir(), "missing"))

	err := c.SignStart(data.NewMem([]byte("m")), data.NewEmpty())
	if !gpgerr.Is(err, gpgerr.ProcessStartFailed) {
		t.Fatalf("SignStart error = %v, want PROCESS_START_FAILED", err)
	}
	if c.Pending() {
		t.Error("context left pending after failed spawn")
	}
}

func TestBusyAndCancel(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, "exec sleep 10"))

	if err := c.SignStart(data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
		t.Fatalf("SignStart failed: %v", err)
	}
	if !c.Pending() {
		t.Fatal("expected pending operation")
	}

	err := c.SignStart(data.NewMem([]byte("m")), data.NewEmpty())
	if !gpgerr.Is(err, gpgerr.Busy) {
		t.Errorf("second SignStart = %v, want BUSY", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Cancel()
	}()
	if err := c.Wait(testContext(t)); !gpgerr.Is(err, gpgerr.Canceled) {
		t.Errorf("Wait error = %v, want CANCELED", err)
	}
	if c.Pending() {
		t.Error("context still pending after cancel")
	}

	if c.ExitStatus() != (process.ExitStatus{}) {
		t.Errorf("canceled operation recorded exit %s", c.ExitStatus())
	}
	if err := c.SignStart(data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
		t.Errorf("SignStart after cancel failed: %v", err)
	}
	c.Cancel()
	_ = c.Wait(testContext(t))
}

func TestContextReuse(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, signScript))

	for i := range 3 {
		if err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
			t.Fatalf("Sign %d failed: %v", i, err)
		}
	}
}

func TestProgressCallback(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, `
cat >/dev/null
st "PROGRESS primegen . 1 10"
st "PROGRESS internal X 0 0"
st "PROGRESS primegen . 10 10"
st "SIG_CREATED D 1 2 00 0 AB"`))

	var got []status.ProgressInfo
	c.SetProgress(func(info status.ProgressInfo) {
		got = append(got, info)
	})

	if err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	want := []status.ProgressInfo{
		{What: "primegen", Type: '.', Current: 1, Total: 10},
		{What: "primegen", Type: '.', Current: 10, Total: 10},
	}
	if !slices.Equal(got, want) {
		t.Errorf("progress = %+v, want %+v", got, want)
	}
}

func TestRun(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, `
st "IMPORT_RES 1 0 1"
tr a-z A-Z
exit 5`))

	var keywords []string
	handler := func(code status.Code, _ string) error {
		keywords = append(keywords, code.String())
		return nil
	}

	out := data.NewEmpty()
	exit, err := c.Run(testContext(t), []string{"--import"}, data.NewMem([]byte("key data")), out, handler)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if exit.Code != 5 {
		t.Errorf("exit = %s, want exit code 5", exit)
	}
	if string(out.Bytes()) != "KEY DATA" {
		t.Errorf("output = %q, want %q", out.Bytes(), "KEY DATA")
	}
	if !slices.Equal(keywords, []string{"IMPORT_RES", "EOF"}) {
		t.Errorf("keywords = %v", keywords)
	}
}

func TestRunWithoutData(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, `test "$1" = "--version" && st "GOT_IT"`))

	var got bool
	exit, err := c.Run(testContext(t), []string{"--version"}, nil, nil, func(code status.Code, _ string) error {
		got = got || code == status.GotIt
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !exit.Success() || !got {
		t.Errorf("exit = %s, saw GOT_IT = %v", exit, got)
	}
}

func TestOperationDoneEvent(t *testing.T) {
	bus := events.New()
	done := make(chan events.OperationDoneEvent, 1)
	defer bus.Subscribe(func(ev events.OperationDoneEvent) { done <- ev })()

	c := newTestContext(t, fakeGPG(t, signScript), WithEventBus(bus))
	if err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	select {
	case ev := <-done:
		if ev.Operation != "sign" || ev.Error != "" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no OperationDoneEvent")
	}
}

type idleHandler struct{}

func (idleHandler) Kind() wait.Kind         { return wait.KindStatus }
func (idleHandler) HandleIO() (bool, error) { return false, nil }

func TestAbortAfterPartialRegistration(t *testing.T) {
	c := newTestContext(t, fakeGPG(t, signScript))

	eng, err := c.begin("sign", nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	// A start that failed after its status descriptor was registered.
	r, w, err := fdio.Pipe("status")
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	if err := c.wc.Register(r, idleHandler{}, 1, wait.Read); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c.abort(eng, gpgerr.New(gpgerr.RegistrationFailed, "data descriptor refused"))

	if c.Pending() || c.wc.Pending() {
		t.Fatalf("pending after abort: context %v, wait %v", c.Pending(), c.wc.Pending())
	}
	if !r.Closed() {
		t.Error("registered descriptor left open")
	}
	if err := c.Sign(testContext(t), data.NewMem([]byte("m")), data.NewEmpty()); err != nil {
		t.Errorf("Sign after aborted start failed: %v", err)
	}
}
