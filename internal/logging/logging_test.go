package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/0gfoundation/0g-pos-settlement/internal/config"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.log")
	log, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("hidden")
	log.Info("order settled")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"order settled"`) {
		t.Errorf("log file missing info line:\n%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
