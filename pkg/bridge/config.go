// Package bridge connects stdin/stdout to the Arduino side of the
// serial-communicator link: it finds the board, performs the handshake and
// then relays newline terminated messages in both directions.
package bridge

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all bridge options.
type Config struct {
	Port     string `usage:"Serial device to use (skips discovery, i.e. /dev/ttyUSB0)"`
	BaudRate int    `default:"115200" usage:"Baud rate the firmware is configured for"`

	SettleDelay time.Duration `default:"3s" usage:"Wait after opening a port; most boards reset on connect"`
	ReadTimeout time.Duration `default:"10s" usage:"Serial read timeout"`

	Handshake struct {
		Attempts int `default:"10" usage:"Handshake attempts before a port is given up on"`
	}

	Log struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output NDJSON instead of pretty console messages"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for it
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:  "SERIAL_BRIDGE",
		FlagPrefix: "cfg",
		Files:      []string{"serial-bridge.toml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.BaudRate <= 0 {
		return eris.Errorf(`Invalid value for baudrate: %d`, cfg.BaudRate)
	}

	if cfg.Handshake.Attempts < 1 {
		return eris.Errorf(`Invalid value for handshake.attempts: %d`, cfg.Handshake.Attempts)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	return nil
}

// LogLevel returns the configured level as a zerolog constant
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
