package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected Log.Level=info, got %q", cfg.Log.Level)
	}

	if cfg.Identity.SSID != "Free Highspeed Wifi" {
		t.Errorf("expected Identity.SSID=Free Highspeed Wifi, got %q", cfg.Identity.SSID)
	}
	if cfg.Identity.GatewayIP != "10.0.0.1" {
		t.Errorf("expected Identity.GatewayIP=10.0.0.1, got %q", cfg.Identity.GatewayIP)
	}
	if cfg.Identity.Subnet != "255.255.255.0" {
		t.Errorf("expected Identity.Subnet=255.255.255.0, got %q", cfg.Identity.Subnet)
	}

	if cfg.DNS.Port != 53 {
		t.Errorf("expected DNS.Port=53, got %d", cfg.DNS.Port)
	}
	if cfg.DNS.TTL != 60 {
		t.Errorf("expected DNS.TTL=60, got %d", cfg.DNS.TTL)
	}
	if cfg.DNS.Backoff != 3*time.Second {
		t.Errorf("expected DNS.Backoff=3s, got %s", cfg.DNS.Backoff)
	}
	if cfg.DNS.MaxPacket != 4096 {
		t.Errorf("expected DNS.MaxPacket=4096, got %d", cfg.DNS.MaxPacket)
	}

	if cfg.HTTP.Port != 80 {
		t.Errorf("expected HTTP.Port=80, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.AssetDir != "/var/lib/rr-portal/www" {
		t.Errorf("expected HTTP.AssetDir=/var/lib/rr-portal/www, got %q", cfg.HTTP.AssetDir)
	}
	if cfg.HTTP.Landing != "index.html" {
		t.Errorf("expected HTTP.Landing=index.html, got %q", cfg.HTTP.Landing)
	}
	if cfg.HTTP.ChunkSize != 1024 {
		t.Errorf("expected HTTP.ChunkSize=1024, got %d", cfg.HTTP.ChunkSize)
	}
	if cfg.HTTP.MaxLine != 4096 || cfg.HTTP.MaxHeaders != 100 {
		t.Errorf("unexpected HTTP bounds: line=%d headers=%d", cfg.HTTP.MaxLine, cfg.HTTP.MaxHeaders)
	}
	if cfg.HTTP.ReadTimeout != 30*time.Second || cfg.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("unexpected HTTP timeouts: read=%s write=%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}

	if cfg.Assets.CacheSize != 16 {
		t.Errorf("expected Assets.CacheSize=16, got %d", cfg.Assets.CacheSize)
	}
	if cfg.Visitors.DB != "" {
		t.Errorf("expected Visitors.DB to be empty, got %q", cfg.Visitors.DB)
	}
	if cfg.Visitors.CacheSize != 1024 || cfg.Visitors.Capacity != 10000 || cfg.Visitors.FPRate != 0.01 {
		t.Errorf("unexpected visitor defaults: %+v", cfg.Visitors)
	}
	if cfg.Metrics.Port != 0 {
		t.Errorf("expected Metrics.Port=0, got %d", cfg.Metrics.Port)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("PORTAL_ENV", "dev")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")
	t.Setenv("PORTAL_SSID", "Coffee Shop Guest")
	t.Setenv("PORTAL_GATEWAY_IP", "192.168.4.1")
	t.Setenv("PORTAL_SUBNET", "255.255.0.0")
	t.Setenv("PORTAL_DNS_PORT", "5353")
	t.Setenv("PORTAL_DNS_TTL", "30")
	t.Setenv("PORTAL_DNS_BACKOFF", "250ms")
	t.Setenv("PORTAL_HTTP_PORT", "8080")
	t.Setenv("PORTAL_HTTP_ASSETS", "/tmp/www")
	t.Setenv("PORTAL_HTTP_CHUNK_SIZE", "512")
	t.Setenv("PORTAL_HTTP_READ_TIMEOUT", "5s")
	t.Setenv("PORTAL_VISITORS_DB", "/tmp/visitors.db")
	t.Setenv("PORTAL_VISITORS_FP_RATE", "0.001")
	t.Setenv("PORTAL_METRICS_PORT", "9100")
	t.Setenv("PORTAL_UNKNOWN_SETTING", "ignored")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %q", cfg.Env)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected Log.Level=debug, got %q", cfg.Log.Level)
	}
	if cfg.Identity.SSID != "Coffee Shop Guest" {
		t.Errorf("expected SSID with spaces preserved, got %q", cfg.Identity.SSID)
	}
	if cfg.Identity.GatewayIP != "192.168.4.1" {
		t.Errorf("expected Identity.GatewayIP=192.168.4.1, got %q", cfg.Identity.GatewayIP)
	}
	if cfg.Identity.Subnet != "255.255.0.0" {
		t.Errorf("expected Identity.Subnet=255.255.0.0, got %q", cfg.Identity.Subnet)
	}
	if cfg.DNS.Port != 5353 {
		t.Errorf("expected DNS.Port=5353, got %d", cfg.DNS.Port)
	}
	if cfg.DNS.TTL != 30 {
		t.Errorf("expected DNS.TTL=30, got %d", cfg.DNS.TTL)
	}
	if cfg.DNS.Backoff != 250*time.Millisecond {
		t.Errorf("expected DNS.Backoff=250ms, got %s", cfg.DNS.Backoff)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP.Port=8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.AssetDir != "/tmp/www" {
		t.Errorf("expected HTTP.AssetDir=/tmp/www, got %q", cfg.HTTP.AssetDir)
	}
	if cfg.HTTP.ChunkSize != 512 {
		t.Errorf("expected HTTP.ChunkSize=512, got %d", cfg.HTTP.ChunkSize)
	}
	if cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Errorf("expected HTTP.ReadTimeout=5s, got %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Visitors.DB != "/tmp/visitors.db" {
		t.Errorf("expected Visitors.DB=/tmp/visitors.db, got %q", cfg.Visitors.DB)
	}
	if cfg.Visitors.FPRate != 0.001 {
		t.Errorf("expected Visitors.FPRate=0.001, got %v", cfg.Visitors.FPRate)
	}
	if cfg.Metrics.Port != 9100 {
		t.Errorf("expected Metrics.Port=9100, got %d", cfg.Metrics.Port)
	}
}

func TestLoad_InvalidOverrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad env", "PORTAL_ENV", "staging"},
		{"bad level", "PORTAL_LOG_LEVEL", "trace"},
		{"gateway not an address", "PORTAL_GATEWAY_IP", "gateway"},
		{"gateway is ipv6", "PORTAL_GATEWAY_IP", "fe80::1"},
		{"subnet not contiguous", "PORTAL_SUBNET", "255.0.255.0"},
		{"subnet zero", "PORTAL_SUBNET", "0.0.0.0"},
		{"ssid too long", "PORTAL_SSID", strings.Repeat("x", 33)},
		{"ssid empty", "PORTAL_SSID", ""},
		{"dns port out of range", "PORTAL_DNS_PORT", "70000"},
		{"packet too small", "PORTAL_DNS_MAX_PACKET", "100"},
		{"ttl zero", "PORTAL_DNS_TTL", "0"},
		{"chunk size zero", "PORTAL_HTTP_CHUNK_SIZE", "0"},
		{"no asset dir", "PORTAL_HTTP_ASSETS", ""},
		{"zero read timeout", "PORTAL_HTTP_READ_TIMEOUT", "0s"},
		{"fp rate one", "PORTAL_VISITORS_FP_RATE", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"portal.yaml": "identity:\n  gateway_ip: 172.16.0.1\nhttp:\n  port: 8081\n",
		"portal.toml": "[identity]\ngateway_ip = \"172.16.0.1\"\n[http]\nport = 8081\n",
		"portal.json": `{"identity": {"gateway_ip": "172.16.0.1"}, "http": {"port": 8081}}`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load(%s) returned error: %v", name, err)
			}
			if cfg.Identity.GatewayIP != "172.16.0.1" {
				t.Errorf("expected GatewayIP from file, got %q", cfg.Identity.GatewayIP)
			}
			if cfg.HTTP.Port != 8081 {
				t.Errorf("expected HTTP.Port=8081 from file, got %d", cfg.HTTP.Port)
			}
			if cfg.DNS.Port != 53 {
				t.Errorf("expected untouched default DNS.Port=53, got %d", cfg.DNS.Port)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 8081\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORTAL_HTTP_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected env to win with HTTP.Port=9090, got %d", cfg.HTTP.Port)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	dir := t.TempDir()

	unsupported := filepath.Join(dir, "portal.ini")
	if err := os.WriteFile(unsupported, []byte("port=1"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(unsupported); err == nil || !strings.Contains(err.Error(), "unsupported config file type") {
		t.Errorf("expected unsupported type error, got %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading defaults, got nil")
	}
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env, got nil")
	}
}

func TestLoad_WhenFileLoaderFails(t *testing.T) {
	orig := fileLoader
	fileLoader = func(k *koanf.Koanf, path string) error { return errors.New("mocked file error") }
	defer func() { fileLoader = orig }()

	_, err := Load("portal.yaml")
	if err == nil || !strings.Contains(err.Error(), "mocked file error") {
		t.Fatalf("expected file loader error, got %v", err)
	}
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked validation error") {
		t.Fatal("expected error when registering validation, got nil")
	}
}

func TestCustomValidations(t *testing.T) {
	type sample struct {
		IP   string `validate:"dotted_quad"`
		Mask string `validate:"netmask"`
	}

	v := validator.New()
	if err := registerValidation(v); err != nil {
		t.Fatalf("registerValidation: %v", err)
	}

	tests := []struct {
		in    sample
		valid bool
	}{
		{sample{"10.0.0.1", "255.255.255.0"}, true},
		{sample{"192.168.4.1", "255.255.255.255"}, true},
		{sample{"10.0.0.1", "128.0.0.0"}, true},
		{sample{"10.0.0", "255.255.255.0"}, false},
		{sample{"::ffff:10.0.0.1", "255.255.255.0"}, false},
		{sample{"10.0.0.1", "255.255.0.255"}, false},
		{sample{"10.0.0.1", "not-a-mask"}, false},
	}

	for _, tt := range tests {
		err := v.Struct(tt.in)
		if tt.valid && err != nil {
			t.Errorf("expected %+v to be valid, got %v", tt.in, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("expected %+v to be invalid", tt.in)
		}
	}
}
