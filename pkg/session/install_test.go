package session

import (
	"testing"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/types"
)

func TestSubstituteTemplate(t *testing.T) {
	env := map[string]string{"SERVER_DIR": "/d/u-1", "PORT": "25565"}
	got := substituteTemplate("echo hi > {{SERVER_DIR}}/ok --port {{PORT}} {{UNKNOWN}}", env)
	want := "echo hi > /d/u-1/ok --port 25565 {{UNKNOWN}}"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestComputeMemoryXMS(t *testing.T) {
	tests := []struct {
		memoryMB int64
		percent  int
		want     int64
	}{
		{1024, 50, 512},
		{1024, 0, 512}, // zero percent falls back to the default
		{1024, 25, 256},
		{1, 50, 1}, // never below 1
		{0, 50, 1},
	}
	for _, tt := range tests {
		if got := computeMemoryXMS(tt.memoryMB, tt.percent); got != tt.want {
			t.Errorf("computeMemoryXMS(%d, %d) = %d, want %d", tt.memoryMB, tt.percent, got, tt.want)
		}
	}
}

func TestTranslatePortBindings(t *testing.T) {
	env := types.Envelope{
		"portBindings": map[string]any{
			"25565": float64(30000),
			"25566": 30001,
		},
	}
	got, err := translatePortBindings(env)
	if err != nil {
		t.Fatalf("translatePortBindings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["25565"] != 30000 || got["25566"] != 30001 {
		t.Fatalf("bindings = %v", got)
	}
}

func TestTranslatePortBindings_AbsentIsNil(t *testing.T) {
	got, err := translatePortBindings(types.Envelope{})
	if err != nil {
		t.Fatalf("translatePortBindings: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent portBindings, got %v", got)
	}
}

func TestTranslatePortBindings_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name     string
		bindings map[string]any
	}{
		{"host port zero", map[string]any{"25565": float64(0)}},
		{"host port too large", map[string]any{"25565": float64(65536)}},
		{"host port negative", map[string]any{"25565": float64(-1)}},
		{"host port not numeric", map[string]any{"25565": "30000"}},
		{"host port absent", map[string]any{"25565": nil}},
		{"container port not numeric", map[string]any{"game": float64(30000)}},
		{"container port zero", map[string]any{"0": float64(30000)}},
		{"container port too large", map[string]any{"70000": float64(30000)}},
	}
	for _, tt := range tests {
		env := types.Envelope{"portBindings": tt.bindings}
		if _, err := translatePortBindings(env); err == nil {
			t.Errorf("%s: expected error, got none", tt.name)
		} else if errs.KindOf(err) != errs.KindInvalidRequest {
			t.Errorf("%s: kind = %s, want invalid_request", tt.name, errs.KindOf(err))
		}
	}
}

func TestScopeLine(t *testing.T) {
	got := scopeLine("Starting installation.\n")
	want := "[fleet] Starting installation.\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
