package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
)

// Environment keys understood by the client.
const (
	KeyServers     = "PERMFARM_SERVERS"
	KeyPriority    = "PERMFARM_PRIORITY"
	KeyJobs        = "PERMFARM_JOBS"
	KeySecret      = "PERMFARM_SECRET"
	KeyDialTimeout = "PERMFARM_DIAL_TIMEOUT"
	KeyQueueDepth  = "PERMFARM_QUEUE_DEPTH"
	KeyOutputDir   = "PERMFARM_OUTPUT_DIR"
	KeyCAFile      = "PERMFARM_CA_FILE"
	KeyDebug       = "DEBUG"
	KeyLogLevel    = "LOG_LEVEL"

	// KeyEnvFile points at the .env file; it is not part of Config
	KeyEnvFile = "PERMFARM_ENV_FILE"

	DefaultEnvFile = ".env"
)

// Keys lists every key Load reads, in documentation order.
var Keys = []string{
	KeyServers,
	KeyPriority,
	KeyJobs,
	KeySecret,
	KeyDialTimeout,
	KeyQueueDepth,
	KeyOutputDir,
	KeyCAFile,
	KeyDebug,
	KeyLogLevel,
}

// Config is the resolved runtime configuration of the client.
type Config struct {
	Servers     []string      `mapstructure:"PERMFARM_SERVERS"`
	Priority    float64       `mapstructure:"PERMFARM_PRIORITY"`
	JobsFile    string        `mapstructure:"PERMFARM_JOBS"`
	Secret      string        `mapstructure:"PERMFARM_SECRET"`
	DialTimeout time.Duration `mapstructure:"PERMFARM_DIAL_TIMEOUT"`
	QueueDepth  int           `mapstructure:"PERMFARM_QUEUE_DEPTH"`
	OutputDir   string        `mapstructure:"PERMFARM_OUTPUT_DIR"`
	CAFile      string        `mapstructure:"PERMFARM_CA_FILE"`
	Debug       bool          `mapstructure:"DEBUG"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
}

// Defaults returns the lowest-precedence layer.
func Defaults() map[string]string {
	return map[string]string{
		KeyServers:     "localhost:12321",
		KeyPriority:    "1.0",
		KeyJobs:        "permuters.yaml",
		KeySecret:      "",
		KeyDialTimeout: "30s",
		KeyQueueDepth:  "0",
		KeyOutputDir:   "",
		KeyCAFile:      "",
		KeyDebug:       "false",
		KeyLogLevel:    "INFO",
	}
}

// ResolveEnvFile picks the .env path: the -env-file flag if given, then
// PERMFARM_ENV_FILE, then ./.env.
func ResolveEnvFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envFile := os.Getenv(KeyEnvFile); envFile != "" {
		return envFile
	}
	return DefaultEnvFile
}

// Load resolves the configuration from, lowest to highest precedence: the
// defaults, envFile (skipped if it does not exist), the process environment
// and overrides (normally the command-line flags that were set). Empty values
// leave the lower layer in place.
func Load(envFile string, overrides map[string]string) (*Config, error) {
	values := Defaults()

	if envFile != "" {
		fileValues, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			debug.Info("Loaded configuration from %s", envFile)
			mergeKnown(values, fileValues)
		case errors.Is(err, fs.ErrNotExist):
			debug.Debug("No env file at %s, skipping", envFile)
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	environ := make(map[string]string)
	for _, key := range Keys {
		if value, ok := os.LookupEnv(key); ok {
			environ[key] = value
		}
	}
	mergeKnown(values, environ)
	mergeKnown(values, overrides)

	cfg, err := decode(values)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeKnown(dst, src map[string]string) {
	for _, key := range Keys {
		if value := strings.TrimSpace(src[key]); value != "" {
			dst[key] = value
		}
	}
}

func decode(values map[string]string) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	cfg.Servers = servers
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	return cfg, nil
}

// Validate checks value ranges that decoding cannot.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured (set %s)", KeyServers)
	}
	if c.Priority <= 0 {
		return fmt.Errorf("priority must be positive, got %v", c.Priority)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue depth must not be negative, got %d", c.QueueDepth)
	}
	if _, err := c.SecretKey(); err != nil {
		return err
	}
	return nil
}

// SecretKey decodes the shared frame-encryption key. It returns nil when no
// secret is configured.
func (c *Config) SecretKey() (*[32]byte, error) {
	if c.Secret == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Secret)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%s must be 64 hex characters", KeySecret)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// ApplyLogging exports the logging settings and re-reads them in pkg/debug,
// so values coming from the env file or flags take effect.
func (c *Config) ApplyLogging() {
	os.Setenv(KeyDebug, fmt.Sprintf("%t", c.Debug))
	os.Setenv(KeyLogLevel, c.LogLevel)
	debug.Reinitialize()
}
