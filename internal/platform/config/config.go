package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "USERADMIN_"

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Log         LogConfig         `koanf:"log"`
	Directory   DirectoryConfig   `koanf:"directory"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Workers     WorkersConfig     `koanf:"workers"`
}

type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// Addr is the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig is optional; an empty URL keeps the directory in memory.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

type DirectoryConfig struct {
	Permissions          []string           `koanf:"permissions" validate:"min=1,dive,required"`
	Departments          []string           `koanf:"departments" validate:"min=1,dive,required"`
	PasswordExpiryDays   int                `koanf:"password_expiry_days" validate:"gte=1"`
	RenewalThresholdDays int                `koanf:"renewal_threshold_days" validate:"gte=0"`
	SystemRoles          []SystemRoleConfig `koanf:"system_roles" validate:"dive"`
}

// SystemRoleConfig seeds a protected role at startup.
type SystemRoleConfig struct {
	Name        string   `koanf:"name" validate:"required"`
	Description string   `koanf:"description" validate:"required"`
	Permissions []string `koanf:"permissions" validate:"min=1"`
}

type CredentialsConfig struct {
	// BcryptCost of 0 selects the library default.
	BcryptCost int `koanf:"bcrypt_cost" validate:"eq=0|gte=4,lte=31"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`
}

type WorkersConfig struct {
	RenewalScanIntervalSecs int `koanf:"renewal_scan_interval_secs" validate:"gte=0"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":         "0.0.0.0",
		"server.port":         8080,
		"server.cors_origins": []string{},
		"database.max_conns":  10,
		"log.level":           "info",
		"log.format":          "json",
		"directory.permissions": []string{
			"Dashboard", "Accounting", "Sales", "Customers", "Vendors", "Banking",
			"Reports", "Payroll", "Inventory", "Company Settings", "User Management",
		},
		"directory.departments":            []string{"IT", "Finance", "Sales", "HR", "Operations", "Marketing"},
		"directory.password_expiry_days":   90,
		"directory.renewal_threshold_days": 7,
		"directory.system_roles": []map[string]any{{
			"name":        "Super Admin",
			"description": "Full access to all features",
			"permissions": []string{"All"},
		}},
		"credentials.bcrypt_cost":            0,
		"metrics.enabled":                    true,
		"metrics.path":                       "/metrics",
		"workers.renewal_scan_interval_secs": 3600,
	}
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// YAML files are optional; missing ones are skipped.
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// USERADMIN_DIRECTORY_PASSWORD_EXPIRY_DAYS -> directory.password_expiry_days
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// listKeys are read from the environment as comma separated values.
var listKeys = map[string]bool{
	"server.cors_origins":   true,
	"directory.permissions": true,
	"directory.departments": true,
}

// envValue maps only the first underscore to the section separator since
// keys are never nested deeper than section.key.
func envValue(name, value string) (string, any) {
	key := strings.Replace(strings.ToLower(strings.TrimPrefix(name, envPrefix)), "_", ".", 1)
	if !listKeys[key] {
		return key, value
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return key, out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges after loading.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
