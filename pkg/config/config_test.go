package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	writeFile(t, path, "name: ${RELIEFNET_TEST_NAME}\nport: 9000\n")
	t.Setenv("RELIEFNET_TEST_NAME", "hub-north")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "hub-north" || s.Port != 9000 {
		t.Errorf("loaded %+v", s)
	}
}

func TestLoad_RunsValidator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	writeFile(t, path, "name: x\n")

	var s sample
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	writeFile(t, path, "port: 1\nprot: 2\n")

	var s sample
	if err := Load(path, &s); err == nil || !strings.Contains(err.Error(), "prot") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_EmptyDocumentKeepsDefaults(t *testing.T) {
	s := sample{Port: 7}
	if err := Parse([]byte(""), &s); err != nil {
		t.Fatal(err)
	}
	if s.Port != 7 {
		t.Errorf("port = %d", s.Port)
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	s := sample{Port: 1}
	read, err := LoadOptional(missing, &s)
	if err != nil || read {
		t.Fatalf("read=%v err=%v", read, err)
	}

	var empty sample
	if _, err := LoadOptional(missing, &empty); err == nil {
		t.Error("defaults should still be validated")
	}
}

func TestWatch_CallsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	writeFile(t, path, "port: 1\n")
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go Watch(ctx, path, logger, func() { calls.Add(1) })
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "other.yaml"), "ignored: true\n")
	writeFile(t, path, "port: 2\n")

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("onChange not called after write")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
