package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...any) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("refined %d atoms", 12)
	if len(lines) != 1 || lines[0] != "refined 12 atoms" {
		t.Errorf("captured lines = %v", lines)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...any) { called = true })
	SetLogger(nil)

	Logf("should go nowhere")
	if called {
		t.Error("muted logger still forwarded to the previous sink")
	}
}

func TestLogfDefaultIsUsable(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf is nil by default")
	}
}
