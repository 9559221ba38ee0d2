package logger

import "testing"

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		" WARN ":  WarnLevel,
		"error":   ErrorLevel,
		"info":    InfoLevel,
		"verbose": InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	Debug("dropped", String("k", "v"))
	Info("dropped")
	Warn("dropped", ErrorField(nil))
	Printf{Component: "test"}.Info("dropped")
	Sync()
}
