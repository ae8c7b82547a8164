package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "debug",
		"WARN":  "warn",
		"error": "error",
		"":      "info",
		"loud":  "info",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewLoggerWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(path, "warn")
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	logger.Sugar().Infow("hidden_event")
	logger.Sugar().Warnw("market_created", "name", "HYPL-USDC")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden_event") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, `"msg":"market_created"`) || !strings.Contains(out, `"name":"HYPL-USDC"`) {
		t.Errorf("log file = %s", out)
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := c.Now()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not fire")
	}
	if !c.Now().After(before) {
		t.Error("clock did not advance")
	}
}
