package data

import "testing"

func TestMemCursor(t *testing.T) {
	m := NewMem([]byte("hello"))
	if m.Type() != TypeMem {
		t.Errorf("Type() = %v, want mem", m.Type())
	}

	m.Advance(3)
	if got := string(m.Unread()); got != "lo" {
		t.Errorf("Unread() = %q, want %q", got, "lo")
	}

	m.Advance(10)
	if len(m.Unread()) != 0 {
		t.Errorf("Advance past end should clamp, got %q", m.Unread())
	}

	m.Rewind()
	if got := string(m.Unread()); got != "hello" {
		t.Errorf("Unread() after Rewind = %q", got)
	}
}

func TestEmptySink(t *testing.T) {
	m := NewEmpty()
	if m.Type() != TypeNone {
		t.Errorf("empty buffer Type() = %v, want none", m.Type())
	}
	if m.Mode() != ModeNone {
		t.Errorf("default Mode() = %v, want none", m.Mode())
	}

	m.SetMode(ModeFromChild)
	if err := m.Append([]byte("sig")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := m.Append([]byte("nature")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if m.Type() != TypeMem {
		t.Errorf("Type() after Append = %v, want mem", m.Type())
	}
	if got := string(m.Bytes()); got != "signature" {
		t.Errorf("Bytes() = %q", got)
	}
	if m.Len() != 9 {
		t.Errorf("Len() = %d, want 9", m.Len())
	}
}

func TestModeStrings(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeNone, "none"},
		{ModeToChild, "to-child"},
		{ModeFromChild, "from-child"},
		{ModeBoth, "both"},
		{Mode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
	if TypeFile.String() != "file" || TypeFD.String() != "fd" {
		t.Error("unexpected Type strings")
	}
}
