package bridge

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/rubberhead/serial-communicator/pkg/wire"
)

// Bridge relays newline terminated messages between a local stream pair
// (usually stdin/stdout of the parent process) and the device connection.
type Bridge struct {
	Conn *wire.Conn
	In   io.Reader
	Out  io.Writer
	Log  zerolog.Logger
}

// Run loops until the input side reaches EOF or the context is canceled:
// read a line from In, forward it to the device, wait for the device's
// reply and write that reply (without its terminator) to Out. A final
// unterminated line at EOF is still forwarded before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	in := bufio.NewReader(b.In)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := in.ReadString('\n')
		eof := false
		switch {
		case err == io.EOF:
			b.Log.Info().Msg("EOF reached on input")
			eof = true
		case err != nil:
			return eris.Wrap(err, "failed to read from input")
		}

		err = b.Conn.WriteLine(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return eris.Wrap(err, "failed to write to the device")
		}

		reply, err := b.Conn.ReadLine()
		if err != nil {
			return eris.Wrap(err, "failed to read from the device")
		}

		_, err = io.WriteString(b.Out, reply)
		if err != nil {
			return eris.Wrap(err, "failed to write to output")
		}

		if eof {
			return nil
		}
	}
}
