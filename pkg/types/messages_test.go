package types

import "testing"

func TestEnvelopeAccessors(t *testing.T) {
	e := Envelope{
		"type":              "start_server",
		"serverId":          "S1",
		"serverUuid":        "u-1",
		"suspended":         true,
		"primaryPort":       float64(25565),
		"allocatedMemoryMb": float64(2048),
		"environment": map[string]any{
			"SERVER_DIR": "/d/u-1",
			"COUNT":      float64(3), // non-string values are dropped
		},
	}

	if e.String("type") != "start_server" {
		t.Fatalf("String(type) = %q", e.String("type"))
	}
	if e.String("missing") != "" {
		t.Fatal("String on absent key should be empty")
	}
	if !e.Bool("suspended") {
		t.Fatal("Bool(suspended) should be true")
	}
	if e.Int("primaryPort") != 25565 {
		t.Fatalf("Int(primaryPort) = %d", e.Int("primaryPort"))
	}
	if e.Int64("allocatedMemoryMb") != 2048 {
		t.Fatalf("Int64(allocatedMemoryMb) = %d", e.Int64("allocatedMemoryMb"))
	}

	env := e.StringMap("environment")
	if env["SERVER_DIR"] != "/d/u-1" {
		t.Fatalf("StringMap = %v", env)
	}
	if _, ok := env["COUNT"]; ok {
		t.Fatal("non-string value should be dropped from StringMap")
	}

	id, uuid := e.Identity()
	if id != "S1" || uuid != "u-1" {
		t.Fatalf("Identity = (%q, %q)", id, uuid)
	}
}

func TestEnvelope_WrongTypesAreZero(t *testing.T) {
	e := Envelope{"serverId": 42, "primaryPort": "25565"}
	if e.String("serverId") != "" {
		t.Fatal("non-string serverId should read as empty")
	}
	if e.Int("primaryPort") != 0 {
		t.Fatal("string port should read as 0")
	}
}
