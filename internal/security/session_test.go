package security

import "testing"

func TestSanitizeSessionName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "my-session_1", "my-session_1"},
		{"path traversal", "../etc/passwd", "___etc_passwd"},
		{"windows traversal", "..\\windows\\system32", "___windows_system32"},
		{"spaces", "my session", "my_session"},
		{"dots", "my.session.json", "my_session_json"},
		{"unicode", "session-日本語", "session-___"},
		{"empty", "", ""},
		{"script tag", "<script>alert(1)</script>", "_script_alert_1___script_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeSessionName(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeSessionName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeSessionNameTruncates(t *testing.T) {
	long := make([]byte, MaxSessionNameLength+50)
	for i := range long {
		long[i] = 'a'
	}
	got := SanitizeSessionName(string(long))
	if len(got) != MaxSessionNameLength {
		t.Errorf("expected truncation to %d chars, got %d", MaxSessionNameLength, len(got))
	}
}
