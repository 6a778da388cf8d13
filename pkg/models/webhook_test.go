package models

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short fully masked", "wh_abc", "***"},
		{"exactly eight", "12345678", "***"},
		{"long token", "wh_0123456789abcdef0123456789abcdef", "wh_012...cdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSecret(tt.in, 6, 4); got != tt.want {
				t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWebhook_MaskedToken(t *testing.T) {
	w := &Webhook{Token: "wh_aabbccddeeff00112233445566778899"}
	want := "wh_aab...8899"
	if got := w.MaskedToken(); got != want {
		t.Errorf("MaskedToken() = %q, want %q", got, want)
	}
}
