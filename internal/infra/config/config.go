package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase/layout"
)

// Config is the top-level application configuration.
type Config struct {
	Catalog   CatalogConfig   `yaml:"catalog"`
	Layout    LayoutConfig    `yaml:"layout"`
	Session   SessionConfig   `yaml:"session"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	History   HistoryConfig   `yaml:"history"`
	Audit     AuditConfig     `yaml:"audit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// CatalogConfig points at the reference data file.
type CatalogConfig struct {
	Path string `yaml:"path"` // empty = built-in catalog
}

// PointConfig is a screen coordinate in YAML form.
type PointConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

func (p PointConfig) point() domain.Point { return domain.Point{X: p.X, Y: p.Y} }

// LayoutConfig overrides the stock board layout. Zero values keep the stock
// value for that field.
type LayoutConfig struct {
	Groups       map[string]PointConfig `yaml:"groups,omitempty"`
	Fallback     *PointConfig           `yaml:"fallback,omitempty"`
	PinSpacing   float64                `yaml:"pin_spacing,omitempty"`
	PinOffset    *PointConfig           `yaml:"pin_offset,omitempty"`
	AnchorOffset *PointConfig           `yaml:"anchor_offset,omitempty"`
	SensorOffset float64                `yaml:"sensor_offset,omitempty"`
}

// Resolve merges the overrides onto layout.DefaultConfig.
func (l LayoutConfig) Resolve() layout.Config {
	out := layout.DefaultConfig()
	for k, p := range l.Groups {
		out.Groups[domain.GroupKey(k)] = p.point()
	}
	if l.Fallback != nil {
		out.Fallback = l.Fallback.point()
	}
	if l.PinSpacing > 0 {
		out.PinSpacing = l.PinSpacing
	}
	if l.PinOffset != nil {
		out.PinOffset = l.PinOffset.point()
	}
	if l.AnchorOffset != nil {
		out.AnchorOffset = l.AnchorOffset.point()
	}
	if l.SensorOffset > 0 {
		out.SensorOffset = l.SensorOffset
	}
	return out
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	ConflictPolicy string        `yaml:"conflict_policy"` // "reject" or "overwrite" (deprecated)
	MaxSessions    int           `yaml:"max_sessions"`    // 0 = unlimited
	MaxAge         time.Duration `yaml:"max_age"`         // idle time before reaping
	ReapSchedule   string        `yaml:"reap_schedule"`   // cron expression or duration
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// RateLimitConfig bounds HTTP requests per client IP.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RPS            float64  `yaml:"rps"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// HistoryConfig holds the attempt history store settings.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards history writes. Zero values take defaults.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}

// SchedulerConfig holds scheduled maintenance tasks.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// defaultDataDir returns the persistent data directory under $HOME/.pintrainer/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".pintrainer", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Session: SessionConfig{
			ConflictPolicy: "reject",
			MaxSessions:    256,
			MaxAge:         2 * time.Hour,
			ReapSchedule:   "10m",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8790",
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		Audit: AuditConfig{
			Path: filepath.Join(dataDir, "audit.jsonl"),
		},
	}
}

// Load reads the config file at path. A missing file yields the defaults
// with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	// A relative catalog path is relative to the config file.
	if cfg.Catalog.Path != "" && !filepath.IsAbs(cfg.Catalog.Path) {
		cfg.Catalog.Path = filepath.Join(filepath.Dir(absPath), cfg.Catalog.Path)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("PINTRAINER_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps PINTRAINER_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PINTRAINER_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("PINTRAINER_SESSION_CONFLICT_POLICY"); v != "" {
		cfg.Session.ConflictPolicy = v
	}
	if v := os.Getenv("PINTRAINER_SESSION_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Session.MaxSessions = n
		}
	}
	if v := os.Getenv("PINTRAINER_SESSION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.MaxAge = d
		}
	}
	if v := os.Getenv("PINTRAINER_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PINTRAINER_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PINTRAINER_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PINTRAINER_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("PINTRAINER_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true"
	}
	if v := os.Getenv("PINTRAINER_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("PINTRAINER_GATEWAY_TOKENS"); v != "" {
		// Format: token:name:role1|role2,token2:name2:role3
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = nil
		for _, entry := range splitAndTrim(v, ",") {
			parts := strings.SplitN(entry, ":", 3)
			if len(parts) < 2 || parts[0] == "" {
				continue
			}
			tc := TokenConfig{Token: parts[0], Name: parts[1]}
			if len(parts) == 3 && parts[2] != "" {
				tc.Roles = splitAndTrim(parts[2], "|")
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, tc)
		}
	}
	if v := os.Getenv("PINTRAINER_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = v == "true"
	}
	if v := os.Getenv("PINTRAINER_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("PINTRAINER_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true"
	}
	if v := os.Getenv("PINTRAINER_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." gateway tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if !strings.HasPrefix(tok, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
		}
		cfg.Gateway.Auth.Tokens[i].Token = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
