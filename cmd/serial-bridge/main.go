package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rubberhead/serial-communicator/pkg/bridge"
)

func getConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	writer := zerolog.ConsoleWriter{Out: out}
	writer.TimeFormat = "15:04:05"
	return writer
}

func main() {
	cfg, loader := bridge.Loader()

	if err := loader.Load(); err != nil {
		if strings.Contains(err.Error(), "help requested") {
			os.Exit(3)
		}

		panic(err)
	}

	if cfg.Log.JSON {
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToJSON(err, true)
		}
	} else {
		log.Logger = log.Output(getConsoleWriter(os.Stderr))
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToString(err, true)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse config")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := bridge.Discover(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("No usable device")
	}
	defer device.Close()

	log.Info().Str("port", device.Name).Msg("Connected to device")

	b := &bridge.Bridge{
		Conn: device.Conn,
		In:   os.Stdin,
		Out:  os.Stdout,
		Log:  log.Logger,
	}

	err = b.Run(ctx)
	if err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Bridge failed")
	}
}
