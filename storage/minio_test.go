package storage

import "testing"

func TestResultKey(t *testing.T) {
	if got := ResultKey("8QyygfIloMc"); got != "results/8QyygfIloMc.json" {
		t.Fatalf("ResultKey = %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		512:             "512 B",
		1024:            "1.00 KB",
		1536:            "1.50 KB",
		5 * 1024 * 1024: "5.00 MB",
	}
	for in, want := range tests {
		if got := FormatSize(in); got != want {
			t.Fatalf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
