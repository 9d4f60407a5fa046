package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace for every environment variable read by Load.
const EnvPrefix = "BODEGA"

// Config represents the complete application configuration
type Config struct {
	Server          ServerConfig          `yaml:"server" envconfig:"SERVER"`
	Logging         LoggingConfig         `yaml:"logging" envconfig:"LOGGING"`
	Telemetry       TelemetryConfig       `yaml:"telemetry" envconfig:"TELEMETRY"`
	Storage         StorageConfig         `yaml:"storage" envconfig:"STORAGE"`
	Entitlement     EntitlementConfig     `yaml:"entitlement" envconfig:"ENTITLEMENT"`
	Authority       AuthorityConfig       `yaml:"authority" envconfig:"AUTHORITY"`
	AuthorityServer AuthorityServerConfig `yaml:"authority_server" envconfig:"AUTHORITY_SERVER"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	OperatorAPIKey  string        `yaml:"operator_api_key" envconfig:"OPERATOR_API_KEY"`
	DevMode         bool          `yaml:"dev_mode" envconfig:"DEV_MODE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/bodega.log"`
}

// TelemetryConfig toggles the OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0" validate:"gte=0,lte=1"`
}

// StorageConfig locates the local SQLite database
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH" default:"data/bodega.db" validate:"required"`
}

// EntitlementConfig drives the license engine
type EntitlementConfig struct {
	Secret            string        `yaml:"secret" envconfig:"SECRET" validate:"required"`
	ProductID         string        `yaml:"product_id" envconfig:"PRODUCT_ID" default:"bodega" validate:"required"`
	AppVersion        string        `yaml:"app_version" envconfig:"APP_VERSION" default:"1.0.0"`
	DevicePrefix      string        `yaml:"device_prefix" envconfig:"DEVICE_PREFIX" default:"PDA" validate:"required,alphanum"`
	DemoDuration      time.Duration `yaml:"demo_duration" envconfig:"DEMO_DURATION" default:"72h" validate:"gt=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" default:"4h" validate:"gt=0"`
	PollInterval      time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" default:"60s" validate:"gt=0"`
	AuditInterval     time.Duration `yaml:"audit_interval" envconfig:"AUDIT_INTERVAL" default:"30m" validate:"gt=0"`
	UnlockBurst       int           `yaml:"unlock_burst" envconfig:"UNLOCK_BURST" default:"5" validate:"min=1"`
	UnlockRefill      time.Duration `yaml:"unlock_refill" envconfig:"UNLOCK_REFILL" default:"30s" validate:"gt=0"`
}

// AuthorityConfig selects and configures the remote license authority backend
type AuthorityConfig struct {
	Backend         string        `yaml:"backend" envconfig:"BACKEND" default:"http" validate:"oneof=http sheets memory"`
	BaseURL         string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:8090" validate:"omitempty,url"`
	APIKey          string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s" validate:"gt=0"`
	SheetID         string        `yaml:"sheet_id" envconfig:"SHEET_ID" validate:"required_if=Backend sheets"`
	CredentialsFile string        `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE" default:"credentials.json"`
}

// AuthorityServerConfig configures the reference authority service
type AuthorityServerConfig struct {
	Port              int           `yaml:"port" envconfig:"PORT" default:"8090" validate:"min=1,max=65535"`
	DatabasePath      string        `yaml:"database_path" envconfig:"DATABASE_PATH" default:"data/authority.db"`
	APIKey            string        `yaml:"api_key" envconfig:"API_KEY"`
	AdminUser         string        `yaml:"admin_user" envconfig:"ADMIN_USER" default:"admin"`
	AdminPasswordHash string        `yaml:"admin_password_hash" envconfig:"ADMIN_PASSWORD_HASH"`
	JWTSecret         string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL          time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"12h"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit YAML file; an empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileConfig, cfg)
		}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays file values on env config. Env values win when they
// were set explicitly; defaulted env values give way to the file.
func mergeConfigs(fileConfig, envConfig Config) Config {
	str := func(env *string, file, name string) {
		if file != "" && !envSet(name) {
			*env = file
		}
	}
	dur := func(env *time.Duration, file time.Duration, name string) {
		if file != 0 && !envSet(name) {
			*env = file
		}
	}

	if fileConfig.Server.Port != 0 && !envSet("SERVER_PORT") {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	dur(&envConfig.Server.ReadTimeout, fileConfig.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	dur(&envConfig.Server.WriteTimeout, fileConfig.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	str(&envConfig.Server.OperatorAPIKey, fileConfig.Server.OperatorAPIKey, "SERVER_OPERATOR_API_KEY")
	if fileConfig.Server.DevMode && !envSet("SERVER_DEV_MODE") {
		envConfig.Server.DevMode = true
	}

	str(&envConfig.Logging.Level, fileConfig.Logging.Level, "LOGGING_LEVEL")
	str(&envConfig.Logging.Output, fileConfig.Logging.Output, "LOGGING_OUTPUT")
	str(&envConfig.Logging.FilePath, fileConfig.Logging.FilePath, "LOGGING_FILE_PATH")

	str(&envConfig.Telemetry.TraceExporter, fileConfig.Telemetry.TraceExporter, "TELEMETRY_TRACE_EXPORTER")
	str(&envConfig.Telemetry.MetricExporter, fileConfig.Telemetry.MetricExporter, "TELEMETRY_METRIC_EXPORTER")

	str(&envConfig.Storage.DatabasePath, fileConfig.Storage.DatabasePath, "STORAGE_DATABASE_PATH")

	e, f := &envConfig.Entitlement, fileConfig.Entitlement
	str(&e.Secret, f.Secret, "ENTITLEMENT_SECRET")
	str(&e.ProductID, f.ProductID, "ENTITLEMENT_PRODUCT_ID")
	str(&e.AppVersion, f.AppVersion, "ENTITLEMENT_APP_VERSION")
	str(&e.DevicePrefix, f.DevicePrefix, "ENTITLEMENT_DEVICE_PREFIX")
	dur(&e.DemoDuration, f.DemoDuration, "ENTITLEMENT_DEMO_DURATION")
	dur(&e.HeartbeatInterval, f.HeartbeatInterval, "ENTITLEMENT_HEARTBEAT_INTERVAL")
	dur(&e.PollInterval, f.PollInterval, "ENTITLEMENT_POLL_INTERVAL")
	dur(&e.AuditInterval, f.AuditInterval, "ENTITLEMENT_AUDIT_INTERVAL")

	a, fa := &envConfig.Authority, fileConfig.Authority
	str(&a.Backend, fa.Backend, "AUTHORITY_BACKEND")
	str(&a.BaseURL, fa.BaseURL, "AUTHORITY_BASE_URL")
	str(&a.APIKey, fa.APIKey, "AUTHORITY_API_KEY")
	dur(&a.Timeout, fa.Timeout, "AUTHORITY_TIMEOUT")
	str(&a.SheetID, fa.SheetID, "AUTHORITY_SHEET_ID")
	str(&a.CredentialsFile, fa.CredentialsFile, "AUTHORITY_CREDENTIALS_FILE")

	s, fs := &envConfig.AuthorityServer, fileConfig.AuthorityServer
	if fs.Port != 0 && !envSet("AUTHORITY_SERVER_PORT") {
		s.Port = fs.Port
	}
	str(&s.DatabasePath, fs.DatabasePath, "AUTHORITY_SERVER_DATABASE_PATH")
	str(&s.APIKey, fs.APIKey, "AUTHORITY_SERVER_API_KEY")
	str(&s.AdminUser, fs.AdminUser, "AUTHORITY_SERVER_ADMIN_USER")
	str(&s.AdminPasswordHash, fs.AdminPasswordHash, "AUTHORITY_SERVER_ADMIN_PASSWORD_HASH")
	str(&s.JWTSecret, fs.JWTSecret, "AUTHORITY_SERVER_JWT_SECRET")

	return envConfig
}

func envSet(name string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + name)
	return ok
}

// resolvePaths anchors relative storage paths at the executable directory
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	c.Storage.DatabasePath = paths.Resolve(c.Storage.DatabasePath)
	c.AuthorityServer.DatabasePath = paths.Resolve(c.AuthorityServer.DatabasePath)
	if c.Logging.Output != "console" {
		c.Logging.FilePath = paths.Resolve(c.Logging.FilePath)
	}
	return nil
}

// Validate checks struct tags and the few cross-field rules tags cannot express
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	if c.Authority.Backend == "http" && c.Authority.BaseURL == "" {
		return fmt.Errorf("authority base url is required for the http backend")
	}

	if c.Entitlement.PollInterval > c.Entitlement.HeartbeatInterval {
		return fmt.Errorf("poll interval %s exceeds heartbeat interval %s",
			c.Entitlement.PollInterval, c.Entitlement.HeartbeatInterval)
	}
	return nil
}

// LoadAuthorityServer loads configuration for the authority service, which
// never sees the entitlement secret.
func LoadAuthorityServer() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	v := validator.New()
	for _, section := range []interface{}{&cfg.Logging, &cfg.Telemetry, &cfg.AuthorityServer} {
		if err := v.Struct(section); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	if cfg.AuthorityServer.JWTSecret == "" {
		return nil, fmt.Errorf("config validation failed: authority server jwt secret is required")
	}
	cfg.Logging.Format = "json"
	return &cfg, nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		filepath.Join("..", "configs", "config.yaml"),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration. The secret is left empty and must
// be supplied before the result passes Validate.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   "json",
			Output:   "console",
			FilePath: "logs/bodega.log",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Storage: StorageConfig{
			DatabasePath: "data/bodega.db",
		},
		Entitlement: EntitlementConfig{
			ProductID:         DefaultProductID,
			AppVersion:        AppVersion,
			DevicePrefix:      DefaultDevicePrefix,
			DemoDuration:      DemoDuration,
			HeartbeatInterval: HeartbeatInterval,
			PollInterval:      StatusPollInterval,
			AuditInterval:     IntegrityAuditInterval,
			UnlockBurst:       UnlockBurst,
			UnlockRefill:      UnlockRefill,
		},
		Authority: AuthorityConfig{
			Backend:         "http",
			BaseURL:         "http://localhost:8090",
			Timeout:         DefaultAuthorityTimeout,
			CredentialsFile: "credentials.json",
		},
		AuthorityServer: AuthorityServerConfig{
			Port:         8090,
			DatabasePath: "data/authority.db",
			AdminUser:    "admin",
			TokenTTL:     12 * time.Hour,
		},
	}
}
