package bridge

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/rubberhead/serial-communicator/pkg/wire"
)

// The firmware answers the hello message with its own and expects that
// answer echoed back before it starts relaying.
const (
	helloMsg = "PC TO ARDUINO_1"
	replyMsg = "ARDUINO_1 TO PC"
)

// Handshake performs the three-way greeting on the passed connection.
// Write errors, read errors and mismatched replies all count as a failed
// attempt; the firmware may still be booting or the port may belong to an
// entirely different device.
func Handshake(ctx context.Context, conn *wire.Conn, attempts int, logger zerolog.Logger) error {
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Info().Msgf("Waiting for device: %d/%d", i, attempts)

		if err := conn.WriteLine(helloMsg); err != nil {
			logger.Warn().Err(err).Msgf("Could not send hello: %d/%d", i, attempts)
			continue
		}

		reply, err := conn.ReadLine()
		if err != nil {
			logger.Warn().Err(err).Msgf("Could not read reply: %d/%d", i, attempts)
			continue
		}

		if reply != replyMsg {
			logger.Warn().Str("reply", reply).Msgf("Mismatched reply: %d/%d", i, attempts)
			continue
		}

		if err = conn.WriteLine(replyMsg); err != nil {
			logger.Warn().Err(err).Msgf("Could not echo reply: %d/%d", i, attempts)
			continue
		}

		return nil
	}

	return eris.Errorf("device did not complete the handshake after %d attempts", attempts)
}
