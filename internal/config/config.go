package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL     = "https://api-cepalstat.cepal.org/cepalstat/api/v1"
	DefaultLang        = "en"
	DefaultTimeout     = 30 * time.Second
	DefaultIndicators  = "./Resources/indicators.csv"
	DefaultMetadataDir = "./Data/Indicators metadata"
	DefaultDataDir     = "./Data/Indicators data"

	DefaultIncomeDistribution = "Income distribution_ by deciles and area.csv"
	DefaultNationalIncome     = "National income National Saving at current prices.csv"
	DefaultPopulation         = "Population_ by geographic area and sex_.csv"
	DefaultOutput             = "monthly_income_per_decil_by_country.csv"
)

// Config is the top-level configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Paths   PathsConfig   `yaml:"paths"`
	Derive  DeriveConfig  `yaml:"derive"`
	Storage StorageConfig `yaml:"storage"`
	Report  ReportConfig  `yaml:"report"`
}

// APIConfig describes how to reach the indicator API.
type APIConfig struct {
	// BaseURL is the API root; indicator paths are appended to it.
	BaseURL string `yaml:"base_url"`

	// Lang is sent as the lang query parameter on every request.
	Lang string `yaml:"lang"`

	// Timeout bounds each HTTP request end to end.
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures how requests are authenticated.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for API requests.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name the API key is sent in (apikey mode).
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// PathsConfig locates the indicator list and the output folders.
type PathsConfig struct {
	// Indicators is the CSV file listing indicator identifiers, one per row
	// after a header row.
	Indicators string `yaml:"indicators"`

	// MetadataDir receives one Excel workbook per indicator.
	MetadataDir string `yaml:"metadata_dir"`

	// DataDir receives one CSV of records per indicator, and the derived result.
	DataDir string `yaml:"data_dir"`
}

// DeriveConfig names the tables the income derivation reads and writes.
// All names are relative to Paths.DataDir.
type DeriveConfig struct {
	IncomeDistribution string `yaml:"income_distribution"`
	NationalIncome     string `yaml:"national_income"`
	Population         string `yaml:"population"`
	Output             string `yaml:"output"`
}

// StorageConfig configures the optional SQL mirror of the derived result.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite | postgres.
	// Empty disables the mirror.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// DSNEnv is the name of the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the Postgres DSN resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// ReportConfig configures the Prometheus textfile run report.
type ReportConfig struct {
	// Path is where the .prom file is written. Empty disables the report.
	Path string `yaml:"path"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Lang:    DefaultLang,
			Timeout: DefaultTimeout,
		},
		Paths: PathsConfig{
			Indicators:  DefaultIndicators,
			MetadataDir: DefaultMetadataDir,
			DataDir:     DefaultDataDir,
		},
		Derive: DeriveConfig{
			IncomeDistribution: DefaultIncomeDistribution,
			NationalIncome:     DefaultNationalIncome,
			Population:         DefaultPopulation,
			Output:             DefaultOutput,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	switch cfg.API.Auth.Mode {
	case "apikey":
		if cfg.API.Auth.Header == "" {
			return fmt.Errorf("api.auth.header is required for apikey mode")
		}
	case "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("api.auth: unknown mode %q", cfg.API.Auth.Mode)
	}

	if cfg.Paths.Indicators == "" {
		return fmt.Errorf("paths.indicators is required")
	}
	if cfg.Paths.MetadataDir == "" || cfg.Paths.DataDir == "" {
		return fmt.Errorf("paths.metadata_dir and paths.data_dir are required")
	}

	for name, v := range map[string]string{
		"income_distribution": cfg.Derive.IncomeDistribution,
		"national_income":     cfg.Derive.NationalIncome,
		"population":          cfg.Derive.Population,
		"output":              cfg.Derive.Output,
	} {
		if v == "" {
			return fmt.Errorf("derive.%s must not be empty", name)
		}
	}

	switch cfg.Storage.Backend {
	case "":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite backend")
		}
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for postgres backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	return nil
}
