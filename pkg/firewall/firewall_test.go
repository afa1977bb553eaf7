package firewall

import "testing"

func TestAllowPort_RejectsInvalidIP(t *testing.T) {
	d := &Driver{backend: BackendIPTables, runner: func(string, ...string) (string, error) { return "", nil }}
	if err := d.AllowPort(25565, "not-an-ip"); err == nil {
		t.Fatalf("expected invalid IPv4 to be rejected")
	}
}

func TestAllowPort_IPTablesIdempotent(t *testing.T) {
	calls := 0
	d := &Driver{
		backend: BackendIPTables,
		runner: func(name string, args ...string) (string, error) {
			calls++
			return "", errDuplicate
		},
	}
	if err := d.AllowPort(25565, "10.0.0.5"); err != nil {
		t.Fatalf("AllowPort should not fail on duplicate-insert errors: %v", err)
	}
	if err := d.AllowPort(25565, "10.0.0.5"); err != nil {
		t.Fatalf("repeating AllowPort should still succeed: %v", err)
	}
	if calls != 6 {
		t.Fatalf("expected 3 iptables calls per AllowPort, got %d total", calls)
	}
}

func TestRemovePort_NoBackend(t *testing.T) {
	d := &Driver{backend: BackendNone}
	if err := d.RemovePort(25565, "10.0.0.5"); err != nil {
		t.Fatalf("RemovePort with no backend should be a no-op: %v", err)
	}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var errDuplicate = fakeErr("iptables: Bad rule (does a matching rule exist in that chain?)")
