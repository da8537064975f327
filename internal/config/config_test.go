package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.ReconnectBackoffMS != 1200 {
		t.Fatalf("expected default backoff 1200, got %d", cfg.Session.ReconnectBackoffMS)
	}
	if cfg.Session.ReplayTurns != 30 {
		t.Fatalf("expected default replay turns 30, got %d", cfg.Session.ReplayTurns)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.FrameSamples != 1024 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REX_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("REX_BUS_USERNAME", "alice")
	t.Setenv("REX_BUS_PASSWORD", "secret")
	t.Setenv("REX_GATEWAY_REALTIME_URL", "wss://desk.example.com/api/ws")
	t.Setenv("REX_SESSION_RECONNECT_BACKOFF_MS", "2400")
	t.Setenv("REX_SESSION_REPLAY_TURNS", "12")
	t.Setenv("REX_SESSION_AUTO_CONNECT", "false")
	t.Setenv("REX_AUDIO_FRAME_SAMPLES", "2048")
	t.Setenv("REX_TRANSCRIPTS_PATH", "./tmp.db")
	t.Setenv("REX_TRANSCRIPTS_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Gateway.RealtimeURL != "wss://desk.example.com/api/ws" {
		t.Fatalf("expected realtime url override, got %q", cfg.Gateway.RealtimeURL)
	}
	if cfg.Session.ReconnectBackoffMS != 2400 {
		t.Fatalf("expected backoff override, got %d", cfg.Session.ReconnectBackoffMS)
	}
	if cfg.Session.ReplayTurns != 12 {
		t.Fatalf("expected replay turns override, got %d", cfg.Session.ReplayTurns)
	}
	if cfg.Session.AutoConnect {
		t.Fatal("expected auto_connect override false")
	}
	if cfg.Audio.FrameSamples != 2048 {
		t.Fatalf("expected frame samples override, got %d", cfg.Audio.FrameSamples)
	}
	if cfg.Transcripts.Path != "./tmp.db" {
		t.Fatalf("expected transcripts path override")
	}
	if cfg.Transcripts.RetentionMode != "persistent" {
		t.Fatalf("expected transcripts retention mode override")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rex.yaml")
	body := []byte(`
runtime_name: desk-kiosk-7
gateway:
  realtime_url: wss://desk.internal/api/ws
  base_url: https://desk.internal
session:
  replay_turns: 5
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "desk-kiosk-7" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Gateway.RealtimeURL != "wss://desk.internal/api/ws" {
		t.Fatalf("expected realtime url from file, got %q", cfg.Gateway.RealtimeURL)
	}
	if cfg.Session.ReplayTurns != 5 {
		t.Fatalf("expected replay turns from file, got %d", cfg.Session.ReplayTurns)
	}
	if cfg.Session.ReconnectBackoffMS != 1200 {
		t.Fatalf("expected backoff to keep default, got %d", cfg.Session.ReconnectBackoffMS)
	}
}

func TestValidateRejectsBadRealtimeURL(t *testing.T) {
	t.Setenv("REX_GATEWAY_REALTIME_URL", "http://desk.internal/api/ws")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for non-websocket url")
	}
}

func TestValidateRejectsBadRetentionMode(t *testing.T) {
	t.Setenv("REX_TRANSCRIPTS_RETENTION_MODE", "forever")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for retention mode")
	}
}
