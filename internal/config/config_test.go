package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/agrimon/internal/config"
	"codeberg.org/mutker/agrimon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// load isolates Load from the test binary's own flags and the working
// directory's .env
func load(t *testing.T, args []string, opts ...config.Option) (*config.Config, error) {
	t.Helper()

	t.Setenv("AGRIMON_CONFIG", "")
	base := []config.Option{config.WithArgs(args), config.WithDotEnv("")}
	return config.Load(append(base, opts...)...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeFile(t, "agrimon.toml", `
log_level = "debug"

[serial]
port = "/dev/ttyACM0"
baud = 115200
enabled = false
reopen_interval = "30s"

[reader]
interval = "5s"
seed = 7

[storage]
path = "/data/agrimon.db"

[advisory]
host = "http://ollama.lan:11434"
model = "mistral"
`)

	cfg, err := load(t, nil, config.WithConfigFile(configPath))
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.False(t, cfg.Serial.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Serial.ReopenInterval)
	assert.Equal(t, 5*time.Second, cfg.Reader.Interval)
	assert.Equal(t, int64(7), cfg.Reader.Seed)
	assert.Equal(t, "/data/agrimon.db", cfg.Storage.Path)
	assert.Equal(t, "http://ollama.lan:11434", cfg.Advisory.Host)
	assert.Equal(t, "mistral", cfg.Advisory.Model)

	// unset keys keep their defaults
	assert.Equal(t, time.Second, cfg.Reader.Backoff)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.LogFormatConsole, cfg.LogFormat)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.True(t, cfg.Serial.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Serial.ReadTimeout)
	assert.Zero(t, cfg.Serial.ReopenInterval)
	assert.Equal(t, time.Second, cfg.Reader.Backoff)
	assert.Equal(t, 2*time.Second, cfg.Reader.Interval)
	assert.Equal(t, int64(42), cfg.Reader.Seed)
	assert.Equal(t, "/var/lib/agrimon/sensor_data.db", cfg.Storage.Path)
	assert.Equal(t, "http://localhost:11434", cfg.Advisory.Host)
	assert.Equal(t, "llama3.1:8b", cfg.Advisory.Model)
	assert.Equal(t, 60*time.Second, cfg.Advisory.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, filepath.Join(os.TempDir(), "agrimon.pid"), cfg.PIDFile)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeFile(t, "agrimon.toml", `
This is not a valid TOML file
`)

	_, err := load(t, nil, config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	_, err := load(t, nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeFile(t, "agrimon.toml", `log_level = "invalid"`)

	_, err := load(t, nil, config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestLogLevelFlag(t *testing.T) {
	cfg, err := load(t, []string{"--log-level", "WARN"})
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelWarning, cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestPrecedence(t *testing.T) {
	configPath := writeFile(t, "agrimon.toml", `
[serial]
port = "/dev/from-file"
baud = 19200

[advisory]
model = "from-file"
`)
	t.Setenv("AGRIMON_SERIAL_BAUD", "38400")
	t.Setenv("AGRIMON_ADVISORY_MODEL", "from-env")

	cfg, err := load(t, []string{"--config", configPath, "--ollama-model", "from-flag"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/from-file", cfg.Serial.Port)
	assert.Equal(t, 38400, cfg.Serial.Baud)
	assert.Equal(t, "from-flag", cfg.Advisory.Model)
}

func TestLegacyEnvironment(t *testing.T) {
	t.Setenv("SERIAL_PORT", "COM3")
	t.Setenv("SERIAL_BAUDRATE", "57600")
	t.Setenv("SERIAL_ENABLED", "false")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("OLLAMA_MODEL", "llama3.2")

	cfg, err := load(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "COM3", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.False(t, cfg.Serial.Enabled)
	assert.Equal(t, "http://gpu-box:11434", cfg.Advisory.Host)
	assert.Equal(t, "llama3.2", cfg.Advisory.Model)

	// the prefixed variable wins over the legacy one
	t.Setenv("AGRIMON_SERIAL_PORT", "/dev/ttyS1")
	cfg, err = load(t, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Port)
}

func TestDotEnv(t *testing.T) {
	dotEnv := writeFile(t, ".env", "AGRIMON_HTTP_ADDR=127.0.0.1:9090\nAGRIMON_STORAGE_PATH=/tmp/from-dotenv.db\n")
	t.Setenv("AGRIMON_STORAGE_PATH", "/tmp/from-env.db")
	// godotenv sets variables for the whole process
	t.Cleanup(func() { os.Unsetenv("AGRIMON_HTTP_ADDR") })

	cfg, err := load(t, nil, config.WithDotEnv(dotEnv))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.Path)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"bad log format", []string{"--log-format", "xml"}, errors.ErrInvalidConfig},
		{"zero baud", []string{"--baud", "-1"}, errors.ErrInvalidConfig},
		{"negative reopen", []string{"--reopen-interval", "-1s"}, errors.ErrInvalidInterval},
		{"unknown flag", []string{"--sample-rate", "80"}, errors.ErrBindFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestEmptyPortAllowedWhenSimulating(t *testing.T) {
	t.Setenv("AGRIMON_SERIAL_PORT", "")
	cfg, err := load(t, []string{"--serial=false", "--port", ""})
	require.NoError(t, err)
	assert.False(t, cfg.Serial.Enabled)
}
