package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "info", false},
		{"debug", "debug", false},
		{"WARN", "warn", false},
		{"loud", "info", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v", tt.in, err)
			}
			if lvl.String() != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, lvl, tt.want)
			}
		})
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gateway.log")
	logger, err := NewLoggerWithFile(path, zap.InfoLevel)
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	logger.Sugar().Infow("order_accepted", "symbol", "X")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"order_accepted"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}
