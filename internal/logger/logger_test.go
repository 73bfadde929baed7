package logger

import "testing"

func TestMaskPAN(t *testing.T) {
	tests := []struct {
		pan  string
		want string
	}{
		{"4111111111111111", "4111********1111"},
		{"411111111111111", "4111*******1111"},
		{"4111111111111111112", "4111***********1112"},
		{"41111", "*****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskPAN(tt.pan); got != tt.want {
			t.Errorf("MaskPAN(%q) = %q, want %q", tt.pan, got, tt.want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("terminal-secret"); got != "term***********" {
		t.Errorf("MaskSecret = %q", got)
	}
	if got := MaskSecret("abc"); got != "***" {
		t.Errorf("short MaskSecret = %q, want fully masked", got)
	}
}
