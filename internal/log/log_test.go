package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	Debug("debug line")
	Info("info line")
	Warn("warn line", "k", "v")
	Error("error line", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("lines below WARN should be dropped:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] warn line k=v") {
		t.Errorf("missing warn line:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] error line err=boom") {
		t.Errorf("missing error line:\n%s", out)
	}
}

func TestKVQuoting(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Info("msg", "name", "two words", "empty", "", "dangling")

	out := buf.String()
	if !strings.Contains(out, `name="two words"`) {
		t.Errorf("expected quoted value, got %s", out)
	}
	if !strings.Contains(out, `empty=""`) {
		t.Errorf("expected quoted empty value, got %s", out)
	}
	if strings.Contains(out, "dangling") {
		t.Errorf("dangling key should be dropped, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
