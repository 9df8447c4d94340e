package main

import (
	"path/filepath"
	"testing"

	"github.com/danmuck/profpipe/internal/config"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != config.Default() {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigInitThenCheck(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "pipe.toml")
	cmd := configCmd()
	cmd.SetArgs([]string{"init", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	cmd = configCmd()
	cmd.SetArgs([]string{"check", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}
}
