package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.log")
	log, err := New(Config{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hidden")
	log.Warn("visible")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"visible"`) || !strings.Contains(out, `"timestamp"`) {
		t.Errorf("log output = %s", out)
	}
}

func TestNew_Defaults(t *testing.T) {
	log, err := New(Config{Level: "loud", Format: "xml"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !log.Core().Enabled(0) || log.Core().Enabled(-1) {
		t.Error("unknown level must fall back to info")
	}
}
