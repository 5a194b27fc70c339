package registry

import "testing"

func TestNormalizeFingerprint(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF", false},
		{"  AA:BB:CC:DD:EE:FF  ", "AA:BB:CC:DD:EE:FF", false},
		{"AA-BB-CC-DD-EE-FF", "", true},
		{"AA:BB:CC:DD:EE", "", true},
		{"not-a-mac", "", true},
		{"", "", true},
	}

	for _, c := range cases {
		got, err := NormalizeFingerprint(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeFingerprint(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeFingerprint(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeFingerprint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeHostname(t *testing.T) {
	if got := SanitizeHostname("  my-host  "); got != "my-host" {
		t.Errorf("expected trimmed hostname, got %q", got)
	}
	if got := SanitizeHostname(""); got != "unknown-host" {
		t.Errorf("expected fallback for empty hostname, got %q", got)
	}
	if got := SanitizeHostname("host\x00name"); got != "hostname" {
		t.Errorf("expected control characters stripped, got %q", got)
	}

	long := make([]byte, maxHostnameLen+50)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeHostname(string(long)); len(got) != maxHostnameLen {
		t.Errorf("expected hostname capped to %d chars, got %d", maxHostnameLen, len(got))
	}
}

func TestTruncateIP(t *testing.T) {
	if got := TruncateIP("192.0.2.1", 20); got != "192.0.2.1" {
		t.Errorf("unexpected truncation of short IP: %q", got)
	}
	if got := TruncateIP("2001:0db8:0000:0000:0000:ff00:0042:8329", 10); len(got) != 10 {
		t.Errorf("expected truncation to 10 chars, got %q", got)
	}
}
