package ble

import "testing"

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"16-bit upper", "180D", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"16-bit lower", "2a37", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"32-bit", "0000180D", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"full upper", "0000180D-0000-1000-8000-00805F9B34FB", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"full braces", "{6e400001-b5a3-f393-e0a9-e50e24dcca9e}", "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{"surrounding space", "  180d ", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"empty", "", ""},
		{"not hex short", "ZZZZ", "zzzz"},
		{"garbage", "Not-A-UUID", "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeUUID(tt.in); got != tt.want {
				t.Errorf("NormalizeUUID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEqualUUID(t *testing.T) {
	if !EqualUUID("180D", "0000180d-0000-1000-8000-00805f9b34fb") {
		t.Error("short and long form should compare equal")
	}
	if EqualUUID("180D", "180F") {
		t.Error("different UUIDs compared equal")
	}
}

func TestNormalizeUUIDs_NilStaysNil(t *testing.T) {
	if got := NormalizeUUIDs(nil); got != nil {
		t.Errorf("NormalizeUUIDs(nil) = %v, want nil", got)
	}
	got := NormalizeUUIDs([]string{"180D"})
	if len(got) != 1 || got[0] != "0000180d-0000-1000-8000-00805f9b34fb" {
		t.Errorf("NormalizeUUIDs() = %v", got)
	}
}

func TestClientCharacteristicConfigUUID(t *testing.T) {
	if ClientCharacteristicConfigUUID != NormalizeUUID("2902") {
		t.Errorf("CCCD uuid = %q", ClientCharacteristicConfigUUID)
	}
}
