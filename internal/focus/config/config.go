package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
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
)

const (
	envPrefix = "FOCUS_"
	// ConfigFileEnv names the optional config file (yaml, json or toml).
	ConfigFileEnv = envPrefix + "CONFIG_FILE"
)

// AppConfig holds the daemon configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env       string          `koanf:"env" validate:"required,oneof=dev prod"`
	Log       LogConfig       `koanf:"log"`
	State     StateConfig     `koanf:"state"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Rules     RulesConfig     `koanf:"rules"`
	Sinkhole  SinkholeConfig  `koanf:"sinkhole"`
	BlockPage BlockPageConfig `koanf:"blockpage"`
	Control   ControlConfig   `koanf:"control"`
}

// LogConfig controls verbosity and the optional rotating log file.
type LogConfig struct {
	Level      string `koanf:"level" validate:"required,oneof=debug info warn error"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
	Compress   bool   `koanf:"compress"`
}

// StateConfig locates the bbolt database and the single-instance lock.
type StateConfig struct {
	Path     string `koanf:"path" validate:"required"`
	LockFile string `koanf:"lock_file" validate:"required,abs_path"`
}

// SchedulerConfig controls the reconciliation loop.
type SchedulerConfig struct {
	RecomputeInterval time.Duration `koanf:"recompute_interval" validate:"required,gte=1s"`
	// Timezone seeds the stored timezone on first start. Empty means the
	// host's local zone.
	Timezone string `koanf:"timezone" validate:"omitempty,iana_tz"`
}

// RulesConfig sizes the rule table's lookup accelerators.
type RulesConfig struct {
	CacheSize int     `koanf:"cache_size" validate:"gte=0"`
	FPRate    float64 `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

// SinkholeConfig controls the DNS listener that enforces the rule table.
type SinkholeConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Listen   string        `koanf:"listen" validate:"required,listen_addr"`
	Upstream []string      `koanf:"upstream" validate:"required,min=1,dive,ip_port"`
	Parallel bool          `koanf:"parallel"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=100ms"`
	TTL      uint32        `koanf:"ttl" validate:"lte=86400"`
	// CacheSize bounds the upstream answer cache; 0 disables it.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
	// BlockIPv4 and BlockIPv6 are returned for blocked names; they should
	// point at the block page server.
	BlockIPv4 string `koanf:"block_ipv4" validate:"omitempty,ipv4"`
	BlockIPv6 string `koanf:"block_ipv6" validate:"omitempty,ipv6"`
}

// BlockPageConfig controls the HTTP server that renders the block page.
type BlockPageConfig struct {
	Listen string `koanf:"listen" validate:"required,listen_addr"`
}

// ControlConfig controls the local JSON API used by focusctl.
type ControlConfig struct {
	Listen string `koanf:"listen" validate:"required,listen_addr"`
}

// DefaultAppConfig is the configuration used when nothing is overridden.
var DefaultAppConfig = AppConfig{
	Env: "prod",
	Log: LogConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	},
	State: StateConfig{
		Path:     "/var/lib/focusflow/state.db",
		LockFile: "/var/run/focusflow.lock",
	},
	Scheduler: SchedulerConfig{
		RecomputeInterval: time.Minute,
	},
	Rules: RulesConfig{
		CacheSize: 1024,
		FPRate:    0.01,
	},
	Sinkhole: SinkholeConfig{
		Enabled:   true,
		Listen:    "127.0.0.1:53",
		Upstream:  []string{"1.1.1.1:53", "1.0.0.1:53"},
		Timeout:   5 * time.Second,
		TTL:       10,
		CacheSize: 2048,
		BlockIPv4: "127.0.0.1",
		BlockIPv6: "::1",
	},
	BlockPage: BlockPageConfig{
		Listen: "127.0.0.1:80",
	},
	Control: ControlConfig{
		Listen: "127.0.0.1:7300",
	},
}

// envKeys maps environment names (without the prefix) to config keys.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"ENV":                          "env",
	"LOG_LEVEL":                    "log.level",
	"LOG_FILE":                     "log.file",
	"LOG_MAX_SIZE_MB":              "log.max_size_mb",
	"LOG_MAX_BACKUPS":              "log.max_backups",
	"LOG_MAX_AGE_DAYS":             "log.max_age_days",
	"LOG_COMPRESS":                 "log.compress",
	"STATE_PATH":                   "state.path",
	"STATE_LOCK_FILE":              "state.lock_file",
	"SCHEDULER_RECOMPUTE_INTERVAL": "scheduler.recompute_interval",
	"SCHEDULER_TIMEZONE":           "scheduler.timezone",
	"RULES_CACHE_SIZE":             "rules.cache_size",
	"RULES_FP_RATE":                "rules.fp_rate",
	"SINKHOLE_ENABLED":             "sinkhole.enabled",
	"SINKHOLE_LISTEN":              "sinkhole.listen",
	"SINKHOLE_UPSTREAM":            "sinkhole.upstream",
	"SINKHOLE_PARALLEL":            "sinkhole.parallel",
	"SINKHOLE_TIMEOUT":             "sinkhole.timeout",
	"SINKHOLE_TTL":                 "sinkhole.ttl",
	"SINKHOLE_CACHE_SIZE":          "sinkhole.cache_size",
	"SINKHOLE_BLOCK_IPV4":          "sinkhole.block_ipv4",
	"SINKHOLE_BLOCK_IPV6":          "sinkhole.block_ipv6",
	"BLOCKPAGE_LISTEN":             "blockpage.listen",
	"CONTROL_LISTEN":               "control.listen",
}

// listKeys are split on commas and spaces when read from the environment.
var listKeys = map[string]bool{
	"sinkhole.upstream": true,
}

// validIPPort validates an "IP:Port" pair with a numeric IP and a port in
// 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	ip, port, ok := splitHostPort(fl.Field().String())
	if !ok || net.ParseIP(ip) == nil {
		return false
	}
	return validPort(port)
}

// validListenAddr accepts "host:port" or ":port" where host is an IP or a
// name. Port 0 is allowed so tests can bind ephemeral ports.
func validListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	if strings.ContainsAny(host, " /") {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n <= 65535
}

// validTimezone accepts anything time.LoadLocation understands except the
// empty string.
func validTimezone(fl validator.FieldLevel) bool {
	tz := fl.Field().String()
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

func validAbsPath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

func splitHostPort(addr string) (string, string, bool) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return "", "", false
	}
	return host, port, true
}

func validPort(port string) bool {
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n > 0
}

// envLoader loads FOCUS_* environment variables through envKeys.
// It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeys[strings.ToUpper(strings.TrimPrefix(key, envPrefix))]
			if !ok {
				return "", nil
			}
			value = strings.TrimSpace(value)
			if listKeys[mapped] {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return mapped, parts
			}
			return mapped, value
		},
	}), nil)
}

// defaultLoader loads DefaultAppConfig through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

// fileLoader loads path, choosing the parser from its extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the custom tags used by AppConfig.
var registerValidation = func(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"ip_port":     validIPPort,
		"listen_addr": validListenAddr,
		"iana_tz":     validTimezone,
		"abs_path":    validAbsPath,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional file named by
// FOCUS_CONFIG_FILE and FOCUS_* environment variables, in that order, and
// validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
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
