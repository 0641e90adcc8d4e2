package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	const key = "FORMPIPE_TEST_BOOL"

	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{"empty uses default", "", true, true},
		{"true", "true", false, true},
		{"numeric true", "1", false, true},
		{"yes", "YES", false, true},
		{"on", "on", false, true},
		{"false", "false", true, false},
		{"numeric false", "0", true, false},
		{"no", "No", true, false},
		{"off", "off", true, false},
		{"whitespace trimmed", "  true  ", false, true},
		{"garbage uses default", "maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := ParseBoolEnv(key, tt.def); got != tt.want {
				t.Errorf("ParseBoolEnv(%q=%q, %v) = %v, want %v", key, tt.value, tt.def, got, tt.want)
			}
		})
	}
}
