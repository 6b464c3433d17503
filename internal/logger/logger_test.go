package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewEncodings(t *testing.T) {
	cases := []struct {
		json, debug bool
	}{
		{false, false},
		{true, false},
		{false, true},
		{true, true},
	}
	for _, c := range cases {
		l, err := New(c.json, c.debug)
		if err != nil {
			t.Fatalf("New(%v,%v): %v", c.json, c.debug, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != c.debug {
			t.Fatalf("debug enabled=%v, want %v", got, c.debug)
		}
	}
}
