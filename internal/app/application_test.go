package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to grab a port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = freePort(t)
	cfg.Relay.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.Port = 0
	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("expected an error for an invalid port")
	}

	cfg = testConfig(t)
	cfg.Relay.DatabasePath = ""
	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("expected an error for an empty database path")
	}
}

func TestApplicationStartStop(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", application.Addr()))
	if err != nil {
		t.Fatalf("health probe failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from health, got %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestApplicationStartFailsOnBusyPort(t *testing.T) {
	cfg := testConfig(t)

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Relay.Port))
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer l.Close()

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail on a busy port")
	}
}
