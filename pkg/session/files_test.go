package session

import (
	"testing"

	"github.com/cuemby/fleetagent/pkg/types"
)

func TestFileOperationType(t *testing.T) {
	tests := []struct {
		name string
		env  types.Envelope
		want string
	}{
		{"nested type field", types.Envelope{"type": "read"}, "read"},
		{"envelope tag falls back to operation", types.Envelope{"type": "file_operation", "operation": "write"}, "write"},
		{"absent type falls back to operation", types.Envelope{"operation": "list"}, "list"},
		{"nothing set", types.Envelope{}, ""},
	}
	for _, tt := range tests {
		if got := fileOperationType(tt.env); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsFileOperationType(t *testing.T) {
	for _, op := range []string{"read", "write", "delete", "list", "rename", "chmod", "compress", "decompress", "archive_contents", "install_url"} {
		if !isFileOperationType(op) {
			t.Errorf("%q should be recognized as a file operation", op)
		}
	}
	for _, op := range []string{"", "file_operation", "start_server", "heartbeat"} {
		if isFileOperationType(op) {
			t.Errorf("%q should not be recognized as a file operation", op)
		}
	}
}
