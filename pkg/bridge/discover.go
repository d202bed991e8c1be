package bridge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/rubberhead/serial-communicator/pkg/wire"
)

// Device is an open, handshaked serial connection.
type Device struct {
	Conn *wire.Conn
	Name string

	port serial.Port
}

// Close closes the underlying serial port.
func (d *Device) Close() error {
	return d.port.Close()
}

// Discover finds the first USB serial device that completes the handshake.
// When cfg.Port is set, only that port is tried. Board metadata is not
// checked on purpose so third party boards keep working.
func Discover(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Device, error) {
	candidates, err := listCandidates(cfg)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, eris.New("no USB serial device found")
	}

	for _, name := range candidates {
		device, err := tryPort(ctx, name, cfg, logger)
		if err != nil {
			logger.Warn().Err(err).Str("port", name).Msg("Skipping port")
			continue
		}

		return device, nil
	}

	return nil, eris.Errorf("no device completed the handshake at baud rate %d", cfg.BaudRate)
}

func listCandidates(cfg *Config) ([]string, error) {
	if cfg.Port != "" {
		return []string{cfg.Port}, nil
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, eris.Wrap(err, "failed to enumerate serial ports")
	}

	candidates := make([]string, 0, len(ports))
	for _, port := range ports {
		if port.IsUSB {
			candidates = append(candidates, port.Name)
		}
	}

	return candidates, nil
}

func tryPort(ctx context.Context, name string, cfg *Config, logger zerolog.Logger) (*Device, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", name)
	}

	err = port.SetReadTimeout(cfg.ReadTimeout)
	if err != nil {
		port.Close()
		return nil, eris.Wrapf(err, "failed to set read timeout on %s", name)
	}

	// most boards reset when the port opens; give the firmware time to boot
	select {
	case <-time.After(cfg.SettleDelay):
	case <-ctx.Done():
		port.Close()
		return nil, ctx.Err()
	}

	conn := wire.NewConn(port)
	err = Handshake(ctx, conn, cfg.Handshake.Attempts, logger.With().Str("port", name).Logger())
	if err != nil {
		port.Close()
		return nil, err
	}

	return &Device{Conn: conn, Name: name, port: port}, nil
}
