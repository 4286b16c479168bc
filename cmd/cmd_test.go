package cmd

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/smazurov/gpgrun/internal/process"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		exit process.ExitStatus
		want int
	}{
		{"success", process.ExitStatus{}, 0},
		{"bad signature", process.ExitStatus{Code: 1}, 1},
		{"error", process.ExitStatus{Code: 2}, 2},
		{"terminated", process.ExitStatus{Code: -1, Signal: syscall.SIGTERM}, 143},
		{"killed", process.ExitStatus{Code: -1, Signal: syscall.SIGKILL}, 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.exit); got != tt.want {
				t.Errorf("exitCode(%+v) = %d, want %d", tt.exit, got, tt.want)
			}
		})
	}
}

func TestReadInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := readInput([]string{path})
	if err != nil {
		t.Fatalf("readInput failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("readInput = %q, want %q", got, "hello")
	}

	if _, err := readInput([]string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.sig")
	if err := writeOutput(path, []byte("sig")); err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "sig" {
		t.Errorf("file holds %q, want %q", got, "sig")
	}
}

func TestSettingsContextTimeout(t *testing.T) {
	s := &Settings{Timeout: 1}
	ctx, cancel := s.context()
	defer cancel()

	<-ctx.Done()
	if ctx.Err() == nil {
		t.Error("context not expired")
	}

	s = &Settings{}
	ctx, cancel = s.context()
	if _, ok := ctx.Deadline(); ok {
		t.Error("context without timeout has a deadline")
	}
	cancel()
}
