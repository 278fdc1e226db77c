package mirror

import "testing"

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{5 * 1024 * 1024, "5.00 MiB"},
		{3 << 40, "3.00 TiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestJoinOrNothing(t *testing.T) {
	t.Parallel()

	if got := joinOrNothing(nil); got != "nothing" {
		t.Errorf("joinOrNothing(nil) = %q", got)
	}
	if got := joinOrNothing([]string{"core", "extra/i686"}); got != "core, extra/i686" {
		t.Errorf("joinOrNothing() = %q", got)
	}
}
