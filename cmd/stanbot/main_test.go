package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stanbot/stanbot/internal/config"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-h"}); err != nil {
		t.Fatalf("run -h: %v", err)
	}
	if !strings.Contains(out.String(), "serve") {
		t.Errorf("help output missing commands: %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"frobnicate"}); err == nil {
		t.Error("unknown command accepted")
	}
	if err := run(context.Background(), &out, &errOut, []string{"-bogus"}); err == nil {
		t.Error("unknown flag accepted")
	}
	if err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"}); err == nil {
		t.Error("unknown output format accepted")
	}
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "Stan") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run -o json version: %v", err)
	}
	if !strings.Contains(out.String(), `"version"`) {
		t.Errorf("json version output = %q", out.String())
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}

	// The installed example must load cleanly.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("installed config does not load: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("example port = %d, want 8080", cfg.Listen.Port)
	}
}

func TestRunInitPreservesExisting(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("listen:\n  port: 9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "9999") {
		t.Error("init overwrote an existing config.yaml")
	}
	if !strings.Contains(buf.String(), "already exists, skipped") {
		t.Errorf("output does not report the skip:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "✓") {
		t.Errorf("output claims a write that did not happen:\n%s", buf.String())
	}
}
