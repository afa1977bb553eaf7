package network

import "testing"

func TestValidate_RejectsPrefix31And32(t *testing.T) {
	base := Definition{
		Name:       "lan0",
		Interface:  "eth0",
		Gateway:    "10.10.0.1",
		RangeStart: "10.10.0.10",
		RangeEnd:   "10.10.0.20",
	}
	for _, prefix := range []string{"31", "32"} {
		d := base
		d.CIDR = "10.10.0.0/" + prefix
		if err := Validate(d); err == nil {
			t.Fatalf("expected prefix /%s to be rejected", prefix)
		}
	}
}

func TestValidate_AcceptsPrefix30(t *testing.T) {
	d := Definition{
		Name:       "lan0",
		Interface:  "eth0",
		CIDR:       "10.10.0.0/30",
		Gateway:    "10.10.0.1",
		RangeStart: "10.10.0.1",
		RangeEnd:   "10.10.0.2",
	}
	if err := Validate(d); err != nil {
		t.Fatalf("expected prefix /30 to be accepted: %v", err)
	}
}

func TestValidate_RejectsBadName(t *testing.T) {
	d := Definition{
		Name:       "_bad",
		Interface:  "eth0",
		CIDR:       "10.10.0.0/24",
		Gateway:    "10.10.0.1",
		RangeStart: "10.10.0.10",
		RangeEnd:   "10.10.0.20",
	}
	if err := Validate(d); err == nil {
		t.Fatalf("expected leading underscore name to be rejected")
	}
}

func TestValidate_StripsIfSuffix(t *testing.T) {
	d := Definition{
		Name:       "lan0",
		Interface:  "eth0@if5",
		CIDR:       "10.10.0.0/24",
		Gateway:    "10.10.0.1",
		RangeStart: "10.10.0.10",
		RangeEnd:   "10.10.0.20",
	}
	if err := Validate(d); err != nil {
		t.Fatalf("expected @ifN suffix to be stripped before validation: %v", err)
	}
}

func TestValidate_RejectsStartNotLessThanEnd(t *testing.T) {
	d := Definition{
		Name:       "lan0",
		Interface:  "eth0",
		CIDR:       "10.10.0.0/24",
		Gateway:    "10.10.0.1",
		RangeStart: "10.10.0.20",
		RangeEnd:   "10.10.0.10",
	}
	if err := Validate(d); err == nil {
		t.Fatalf("expected start >= end to be rejected")
	}
}

func TestValidate_RejectsGatewayOutsideCIDR(t *testing.T) {
	d := Definition{
		Name:       "lan0",
		Interface:  "eth0",
		CIDR:       "10.10.0.0/24",
		Gateway:    "192.168.1.1",
		RangeStart: "10.10.0.10",
		RangeEnd:   "10.10.0.20",
	}
	if err := Validate(d); err == nil {
		t.Fatalf("expected out-of-cidr gateway to be rejected")
	}
}
