package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/types"
)

func TestParseEvent_LifecycleStatus(t *testing.T) {
	line := `{"ID":"abc123","Status":"die","Actor":{"ID":"abc123","Attributes":{"name":"u-1","exitCode":"137"}}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event to parse")
	}
	if ev.Type != events.EventDie {
		t.Fatalf("Type = %s, want die", ev.Type)
	}
	if ev.Container != "u-1" {
		t.Fatalf("Container = %s, want u-1", ev.Container)
	}
	if ev.ExitCode != 137 {
		t.Fatalf("ExitCode = %d, want 137", ev.ExitCode)
	}
}

func TestParseEvent_FallsBackToID(t *testing.T) {
	line := `{"ID":"abc123","Status":"start","Actor":{"ID":"abc123","Attributes":{}}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event to parse")
	}
	if ev.Container != "abc123" {
		t.Fatalf("Container = %s, want the raw ID", ev.Container)
	}
}

func TestParseEvent_IgnoresNonLifecycle(t *testing.T) {
	for _, line := range []string{
		"",
		"not json",
		`{"ID":"x","Status":"exec_create"}`,
		`{"ID":"x","Status":"pull"}`,
	} {
		if _, ok := ParseEvent(line); ok {
			t.Errorf("expected %q to be ignored", line)
		}
	}
}

func TestPortArgs_EphemeralWhenNoBindings(t *testing.T) {
	d := NewDriver("nerdctl", "fleet")
	args := d.portArgs(CreateConfig{PrimaryPort: 25565})
	if len(args) != 2 || args[0] != "-p" || args[1] != "25565" {
		t.Fatalf("args = %v, want [-p 25565]", args)
	}
}

func TestPortArgs_ExplicitBindings(t *testing.T) {
	d := NewDriver("nerdctl", "fleet")
	args := d.portArgs(CreateConfig{
		PrimaryPort:  25565,
		PortBindings: types.PortBindings{"25565": 30000},
	})
	if len(args) != 2 || args[0] != "-p" || args[1] != "30000:25565" {
		t.Fatalf("args = %v, want [-p 30000:25565]", args)
	}
}

func TestWriteEntrypointScript(t *testing.T) {
	dir := t.TempDir()
	entry, err := writeEntrypointScript(dir, "java -jar server.jar")
	if err != nil {
		t.Fatal(err)
	}
	if entry != filepath.Join(consoleMountPath, "entrypoint.sh") {
		t.Fatalf("entrypoint path = %s", entry)
	}

	data, err := os.ReadFile(filepath.Join(dir, "entrypoint.sh"))
	if err != nil {
		t.Fatal(err)
	}
	script := string(data)
	if !strings.HasPrefix(script, "#!/bin/bash\n") {
		t.Fatalf("script missing shebang: %q", script)
	}
	if !strings.Contains(script, "exec java -jar server.jar") {
		t.Fatalf("script missing exec of startup command: %q", script)
	}
	if !strings.Contains(script, filepath.Join(consoleMountPath, "stdin")) {
		t.Fatalf("script missing fifo redirect: %q", script)
	}

	info, err := os.Stat(filepath.Join(dir, "entrypoint.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatal("entrypoint script is not executable")
	}
}

func TestPumpLines_StripsCarriageReturn(t *testing.T) {
	var lines []string
	PumpLines(strings.NewReader("one\r\ntwo\nthree"), func(line string) bool {
		lines = append(lines, line)
		return true
	})
	if len(lines) != 3 || lines[0] != "one" || lines[1] != "two" || lines[2] != "three" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestPumpLines_StopsWhenCallbackReturnsFalse(t *testing.T) {
	count := 0
	PumpLines(strings.NewReader("a\nb\nc\n"), func(string) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}
