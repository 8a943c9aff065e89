package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pintrainer/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Session.ConflictPolicy != "reject" {
		t.Errorf("ConflictPolicy = %q, want %q", cfg.Session.ConflictPolicy, "reject")
	}
	if cfg.Session.MaxAge != 2*time.Hour {
		t.Errorf("MaxAge = %v, want 2h", cfg.Session.MaxAge)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Catalog.Path != "" {
		t.Errorf("Catalog.Path = %q, want built-in", cfg.Catalog.Path)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MaxSessions != 256 {
		t.Errorf("expected defaults, got MaxSessions=%d", cfg.Session.MaxSessions)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
catalog:
  path: "lab.yaml"
layout:
  pin_spacing: 40
  groups:
    A: {x: 10, y: 20}
session:
  conflict_policy: overwrite
  max_age: 30m
logger:
  level: "debug"
gateway:
  enabled: true
  addr: "0.0.0.0:9999"
  auth:
    type: static
    tokens:
      - token: "t1"
        name: "lab-pc"
        roles: [learner]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog.Path != filepath.Join(dir, "lab.yaml") {
		t.Errorf("Catalog.Path = %q, want it resolved next to the config file", cfg.Catalog.Path)
	}
	if cfg.Session.ConflictPolicy != "overwrite" {
		t.Errorf("ConflictPolicy = %q", cfg.Session.ConflictPolicy)
	}
	if cfg.Session.MaxAge != 30*time.Minute {
		t.Errorf("MaxAge = %v, want 30m", cfg.Session.MaxAge)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if len(cfg.Gateway.Auth.Tokens) != 1 || cfg.Gateway.Auth.Tokens[0].Roles[0] != "learner" {
		t.Errorf("tokens = %+v", cfg.Gateway.Auth.Tokens)
	}

	lc := cfg.Layout.Resolve()
	if lc.PinSpacing != 40 {
		t.Errorf("PinSpacing = %v, want 40", lc.PinSpacing)
	}
	if got := lc.Groups["A"]; got != (domain.Point{X: 10, Y: 20}) {
		t.Errorf("group A base = %+v", got)
	}
	if got := lc.Groups["B"]; got != (domain.Point{X: 190, Y: 410}) {
		t.Errorf("group B base = %+v, want stock value", got)
	}
}

func TestLayoutResolveEmptyKeepsStock(t *testing.T) {
	var lc LayoutConfig
	got := lc.Resolve()
	if got.PinSpacing != 30 || got.SensorOffset != 50 {
		t.Errorf("Resolve() = %+v, want stock layout", got)
	}
	if got.Fallback != (domain.Point{X: 60, Y: 310}) {
		t.Errorf("Fallback = %+v", got.Fallback)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PINTRAINER_CATALOG_PATH", "/etc/pintrainer/catalog.yaml")
	t.Setenv("PINTRAINER_SESSION_CONFLICT_POLICY", "overwrite")
	t.Setenv("PINTRAINER_SESSION_MAX_SESSIONS", "3")
	t.Setenv("PINTRAINER_SESSION_MAX_AGE", "5m")
	t.Setenv("PINTRAINER_LOGGER_LEVEL", "warn")
	t.Setenv("PINTRAINER_TRACER_ENABLED", "true")
	t.Setenv("PINTRAINER_GATEWAY_ADDR", "127.0.0.1:1234")
	t.Setenv("PINTRAINER_HISTORY_ENABLED", "false")
	t.Setenv("PINTRAINER_AUDIT_ENABLED", "true")
	t.Setenv("PINTRAINER_AUDIT_PATH", "/tmp/audit.jsonl")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Catalog.Path != "/etc/pintrainer/catalog.yaml" {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}
	if cfg.Session.ConflictPolicy != "overwrite" {
		t.Errorf("ConflictPolicy = %q", cfg.Session.ConflictPolicy)
	}
	if cfg.Session.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d", cfg.Session.MaxSessions)
	}
	if cfg.Session.MaxAge != 5*time.Minute {
		t.Errorf("MaxAge = %v", cfg.Session.MaxAge)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
	if cfg.Gateway.Addr != "127.0.0.1:1234" {
		t.Errorf("Gateway.Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled should be false")
	}
	if !cfg.Audit.Enabled || cfg.Audit.Path != "/tmp/audit.jsonl" {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("PINTRAINER_SESSION_MAX_SESSIONS", "many")
	t.Setenv("PINTRAINER_SESSION_MAX_AGE", "-1h")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Session.MaxSessions != 256 || cfg.Session.MaxAge != 2*time.Hour {
		t.Errorf("Session = %+v, want defaults kept", cfg.Session)
	}
}

func TestEnvOverridesGatewayTokens(t *testing.T) {
	t.Setenv("PINTRAINER_GATEWAY_TOKENS", "abc:lab-lead:instructor|learner, def:kiosk:viewer, :broken")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Gateway.Auth.Type != "static" {
		t.Errorf("Auth.Type = %q, want static", cfg.Gateway.Auth.Type)
	}
	if len(cfg.Gateway.Auth.Tokens) != 2 {
		t.Fatalf("tokens = %+v, want 2", cfg.Gateway.Auth.Tokens)
	}
	first := cfg.Gateway.Auth.Tokens[0]
	if first.Token != "abc" || first.Name != "lab-lead" || len(first.Roles) != 2 {
		t.Errorf("first token = %+v", first)
	}
	if cfg.Gateway.Auth.Tokens[1].Roles[0] != "viewer" {
		t.Errorf("second token = %+v", cfg.Gateway.Auth.Tokens[1])
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "classroom-token-42"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if encrypted == plaintext {
		t.Fatal("EncryptValue returned plaintext")
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptValueErrors(t *testing.T) {
	good, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name       string
		value      string
		passphrase string
	}{
		{"wrong passphrase", good, "wrong-pass"},
		{"no separator", "deadbeef", "p"},
		{"bad salt hex", "zz:00", "p"},
		{"bad ciphertext hex", "00:zz", "p"},
		{"too short", "00112233445566778899aabbccddeeff:0011", "p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptValue(tt.value, tt.passphrase)
			if !errors.Is(err, domain.ErrDecryption) {
				t.Errorf("err = %v, want ErrDecryption", err)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encrypted, err := EncryptValue("real-token", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.Gateway.Auth.Tokens = []TokenConfig{
		{Token: "enc:" + encrypted, Name: "lab"},
		{Token: "plain-token", Name: "kiosk"},
	}
	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "real-token" {
		t.Errorf("token = %q, want decrypted", cfg.Gateway.Auth.Tokens[0].Token)
	}
	if cfg.Gateway.Auth.Tokens[1].Token != "plain-token" {
		t.Error("plain token should remain unchanged")
	}

	cfg.Gateway.Auth.Tokens = []TokenConfig{{Token: "enc:notvalidhex", Name: "bad"}}
	if err := decryptSecrets(cfg, passphrase); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("tok-secret", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  enabled: true
  addr: "127.0.0.1:8790"
  auth:
    type: static
    tokens:
      - token: "enc:` + encrypted + `"
        name: "lab"
        roles: [instructor]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PINTRAINER_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "tok-secret" {
		t.Errorf("Token = %q, want decrypted", cfg.Gateway.Auth.Tokens[0].Token)
	}

	t.Setenv("PINTRAINER_CONFIG_KEY", "wrong")
	if _, err := Load(path); err == nil {
		t.Error("expected decrypt error with the wrong key")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("session: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("session:\n  conflict_policy: merge\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if !errors.Is(err, domain.ErrConfig) {
		t.Error("validation errors should match domain.ErrConfig")
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0o600, false},
		{0o644, false},
		{0o640, false},
		{0o660, true},
		{0o666, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.mode.String())
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}

	if err := validatePermissions(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected stat error")
	}
}
