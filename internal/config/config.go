package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = LogLevelInfo
	DefaultEnvPrefix = "AGRIMON"
	defaultDotEnv    = ".env"
	configName       = "agrimon"
	configDir        = "/etc"
)

type Config struct {
	LogLevel  LogLevel  `mapstructure:"log_level"`
	LogFormat LogFormat `mapstructure:"log_format"`
	PIDFile   string    `mapstructure:"pid_file"`

	Serial   SerialConfig   `mapstructure:"serial"`
	Reader   ReaderConfig   `mapstructure:"reader"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Advisory AdvisoryConfig `mapstructure:"advisory"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type SerialConfig struct {
	Port           string        `mapstructure:"port"`
	Baud           int           `mapstructure:"baud"`
	Enabled        bool          `mapstructure:"enabled"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReopenInterval time.Duration `mapstructure:"reopen_interval"`
}

type ReaderConfig struct {
	Backoff  time.Duration `mapstructure:"backoff"`
	Interval time.Duration `mapstructure:"interval"`
	Seed     int64         `mapstructure:"seed"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type AdvisoryConfig struct {
	Host    string        `mapstructure:"host"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Unprefixed environment variables from earlier deployments, still honored
var legacyEnv = map[string]string{
	"serial.port":    "SERIAL_PORT",
	"serial.baud":    "SERIAL_BAUDRATE",
	"serial.enabled": "SERIAL_ENABLED",
	"advisory.host":  "OLLAMA_HOST",
	"advisory.model": "OLLAMA_MODEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("log_format", string(LogFormatConsole))
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), "agrimon.pid"))

	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.enabled", true)
	v.SetDefault("serial.read_timeout", 2*time.Second)
	v.SetDefault("serial.reopen_interval", time.Duration(0))

	v.SetDefault("reader.backoff", time.Second)
	v.SetDefault("reader.interval", 2*time.Second)
	v.SetDefault("reader.seed", 42)

	v.SetDefault("storage.path", "/var/lib/agrimon/sensor_data.db")

	v.SetDefault("advisory.host", "http://localhost:11434")
	v.SetDefault("advisory.model", "llama3.1:8b")
	v.SetDefault("advisory.timeout", 60*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"log-level":       "log_level",
	"log-format":      "log_format",
	"pid-file":        "pid_file",
	"port":            "serial.port",
	"baud":            "serial.baud",
	"serial":          "serial.enabled",
	"reopen-interval": "serial.reopen_interval",
	"db":              "storage.path",
	"ollama-host":     "advisory.host",
	"ollama-model":    "advisory.model",
	"listen":          "http.addr",
	"metrics":         "metrics.enabled",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("agrimon", pflag.ContinueOnError)

	fs.String("config", "", "Path to a TOML config file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.String("log-format", string(LogFormatConsole), "Log format (console, json)")
	fs.String("pid-file", "", "Path to the PID file")
	fs.String("port", "", "Serial device, e.g. /dev/ttyUSB0")
	fs.Int("baud", 0, "Serial baud rate")
	fs.Bool("serial", true, "Read from the serial device; false always simulates")
	fs.Duration("reopen-interval", 0, "Retry a missing serial device this often (0 disables)")
	fs.String("db", "", "Path to the SQLite database")
	fs.String("ollama-host", "", "Base URL of the Ollama server")
	fs.String("ollama-model", "", "Model used for recommendations")
	fs.String("listen", "", "HTTP listen address")
	fs.Bool("metrics", true, "Expose Prometheus metrics on /metrics")

	return fs
}

// Load reads configuration from defaults, an optional .env file, the TOML
// config file, the environment and the command line, in increasing order
// of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: DefaultEnvPrefix,
		dotEnv:    defaultDotEnv,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	if err := loadDotEnv(o.dotEnv); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := bindEnv(v, o.envPrefix); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	path := o.configPath
	if f := fs.Lookup("config"); f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func bindEnv(v *viper.Viper, prefix string) error {
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := prefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return err
		}
	}
	return nil
}

// readConfigFile reads path, or /etc/agrimon.toml when path is empty. Only
// the implicit file may be missing.
func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}
	return nil
}

func normalizeLogLevel(l LogLevel) LogLevel {
	l = LogLevel(strings.ToLower(string(l)))
	if l == "warn" {
		return LogLevelWarning
	}
	return l
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return errFactory.WithData(errors.ErrInvalidConfig, "log_format="+string(c.LogFormat))
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "serial.port is empty")
	}
	if c.Serial.Baud <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "serial.baud must be positive")
	}
	if c.Serial.ReadTimeout <= 0 || c.Serial.ReopenInterval < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "serial")
	}
	if c.Reader.Backoff <= 0 || c.Reader.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "reader")
	}
	if c.Storage.Path == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "storage.path is empty")
	}
	if c.Advisory.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "advisory.timeout")
	}
	if c.HTTP.Addr == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "http.addr is empty")
	}
	return nil
}
