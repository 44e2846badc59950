package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

// AppConfig holds the portal configuration after defaults, the optional
// config file and PORTAL_* environment variables have been merged.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log      LoggingConfig  `koanf:"log"`
	Identity IdentityConfig `koanf:"identity"`
	DNS      DNSConfig      `koanf:"dns"`
	HTTP     HTTPConfig     `koanf:"http"`
	Assets   AssetsConfig   `koanf:"assets"`
	Visitors VisitorsConfig `koanf:"visitors"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// IdentityConfig is the access point identity. The portal only reads the
// gateway address; SSID and subnet are logged for the operator.
type IdentityConfig struct {
	SSID      string `koanf:"ssid" validate:"required,max=32"`
	GatewayIP string `koanf:"gateway_ip" validate:"required,dotted_quad"`
	Subnet    string `koanf:"subnet" validate:"required,netmask"`
}

// DNSConfig configures the DNS redirector and its UDP loop.
type DNSConfig struct {
	Port int `koanf:"port" validate:"gte=0,lt=65536"`
	// TTL of the redirect answer in seconds.
	TTL uint32 `koanf:"ttl" validate:"gte=1"`
	// Backoff is the pause after a socket error in the DNS loop.
	Backoff   time.Duration `koanf:"backoff" validate:"gte=0"`
	MaxPacket int           `koanf:"max_packet" validate:"gte=512,lte=65535"`
}

// HTTPConfig configures the portal listener and its per-connection bounds.
type HTTPConfig struct {
	Port         int           `koanf:"port" validate:"gte=0,lt=65536"`
	AssetDir     string        `koanf:"assets" validate:"required"`
	Landing      string        `koanf:"landing" validate:"required"`
	ChunkSize    int           `koanf:"chunk_size" validate:"gte=1,lte=1048576"`
	MaxLine      int           `koanf:"max_line" validate:"gte=64"`
	MaxHeaders   int           `koanf:"max_headers" validate:"gte=1"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

// AssetsConfig sizes the landing document cache.
type AssetsConfig struct {
	CacheSize int `koanf:"cache_size" validate:"gte=1"`
}

// VisitorsConfig configures the visitor registry.
type VisitorsConfig struct {
	// DB is the bbolt file visitors are persisted to. Empty keeps them in memory.
	DB        string  `koanf:"db"`
	CacheSize int     `koanf:"cache_size" validate:"gte=1"`
	Capacity  uint64  `koanf:"capacity" validate:"gte=1"`
	FPRate    float64 `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	// Port of the /metrics listener; 0 disables it.
	Port int `koanf:"port" validate:"gte=0,lt=65536"`
}

// DEFAULT_APP_CONFIG holds the defaults every other source overrides.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Identity: IdentityConfig{
		SSID:      "Free Highspeed Wifi",
		GatewayIP: "10.0.0.1",
		Subnet:    "255.255.255.0",
	},
	DNS: DNSConfig{
		Port:      53,
		TTL:       domain.DefaultTTL,
		Backoff:   3 * time.Second,
		MaxPacket: 4096,
	},
	HTTP: HTTPConfig{
		Port:         80,
		AssetDir:     "/var/lib/rr-portal/www",
		Landing:      "index.html",
		ChunkSize:    1024,
		MaxLine:      4096,
		MaxHeaders:   100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	},
	Assets: AssetsConfig{CacheSize: 16},
	Visitors: VisitorsConfig{
		DB:        "",
		CacheSize: 1024,
		Capacity:  10000,
		FPRate:    0.01,
	},
	Metrics: MetricsConfig{Port: 0},
}

// envKeys maps PORTAL_* variable names (prefix stripped, lower case) to
// koanf paths. Variables not listed here are ignored.
var envKeys = map[string]string{
	"env":                 "env",
	"log_level":           "log.level",
	"ssid":                "identity.ssid",
	"gateway_ip":          "identity.gateway_ip",
	"subnet":              "identity.subnet",
	"dns_port":            "dns.port",
	"dns_ttl":             "dns.ttl",
	"dns_backoff":         "dns.backoff",
	"dns_max_packet":      "dns.max_packet",
	"http_port":           "http.port",
	"http_assets":         "http.assets",
	"http_landing":        "http.landing",
	"http_chunk_size":     "http.chunk_size",
	"http_max_line":       "http.max_line",
	"http_max_headers":    "http.max_headers",
	"http_read_timeout":   "http.read_timeout",
	"http_write_timeout":  "http.write_timeout",
	"assets_cache_size":   "assets.cache_size",
	"visitors_db":         "visitors.db",
	"visitors_cache_size": "visitors.cache_size",
	"visitors_capacity":   "visitors.capacity",
	"visitors_fp_rate":    "visitors.fp_rate",
	"metrics_port":        "metrics.port",
}

const envPrefix = "PORTAL_"

// envLoader loads PORTAL_* variables. It is a variable so tests can mock it.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			path, ok := envKeys[strings.ToLower(strings.TrimPrefix(key, envPrefix))]
			if !ok {
				return "", nil
			}
			return path, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader merges a YAML, TOML or JSON config file chosen by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".toml":
		parser = toml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the portal's custom validation tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("dotted_quad", validDottedQuad); err != nil {
		return err
	}
	return v.RegisterValidation("netmask", validNetmask)
}

// validDottedQuad accepts strict IPv4 dotted quads only.
func validDottedQuad(fl validator.FieldLevel) bool {
	_, err := domain.ParseIPv4(fl.Field().String())
	return err == nil
}

// validNetmask accepts dotted quads with contiguous leading one bits.
func validNetmask(fl validator.FieldLevel) bool {
	mask, err := domain.ParseIPv4(fl.Field().String())
	return err == nil && mask.IsNetmask()
}

// Load merges defaults, the optional config file at path and the
// environment, then validates the result.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
