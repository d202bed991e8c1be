// Package wire implements the framing the bridge shares with the firmware:
// fixed-width integers in the device's native byte order and newline
// terminated text. Everything works against plain readers and writers so the
// codec can be tested without a device attached.
package wire

import (
	"encoding/binary"
	"io"
	"math/bits"
)

// ReadU64 reads 8 bytes and interprets them in native byte order.
func ReadU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.NativeEndian.Uint64(buf[:]), nil
}

// ReadU64Swapped reads 8 bytes and returns them with the byte order flipped.
// Useful when the peer's native order differs from ours, e.g. reading values
// an x86 host wrote from an ARM board.
func ReadU64Swapped(r io.Reader) (uint64, error) {
	value, err := ReadU64(r)
	if err != nil {
		return 0, err
	}

	return bits.ReverseBytes64(value), nil
}

// ReadI64 reads a native-order signed 64-bit integer.
func ReadI64(r io.Reader) (int64, error) {
	value, err := ReadU64(r)
	return int64(value), err
}

// WriteU64 writes the value in native byte order.
func WriteU64(w io.Writer, value uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

// WriteU64Swapped writes the value with the byte order flipped.
func WriteU64Swapped(w io.Writer, value uint64) error {
	return WriteU64(w, bits.ReverseBytes64(value))
}

// ReadU32 reads 4 bytes and interprets them in native byte order.
func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.NativeEndian.Uint32(buf[:]), nil
}

// ReadU32Swapped reads 4 bytes and returns them with the byte order flipped.
func ReadU32Swapped(r io.Reader) (uint32, error) {
	value, err := ReadU32(r)
	if err != nil {
		return 0, err
	}

	return bits.ReverseBytes32(value), nil
}

// ReadI32 reads a native-order signed 32-bit integer.
func ReadI32(r io.Reader) (int32, error) {
	value, err := ReadU32(r)
	return int32(value), err
}

// WriteU32 writes the value in native byte order.
func WriteU32(w io.Writer, value uint32) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

// WriteU32Swapped writes the value with the byte order flipped.
func WriteU32Swapped(w io.Writer, value uint32) error {
	return WriteU32(w, bits.ReverseBytes32(value))
}

// WriteString writes the passed text as-is.
func WriteString(w io.Writer, text string) error {
	_, err := io.WriteString(w, text)
	return err
}

// WriteStringDelim writes the passed text followed by the delimiter byte.
func WriteStringDelim(w io.Writer, text string, delim byte) error {
	if err := WriteString(w, text); err != nil {
		return err
	}

	_, err := w.Write([]byte{delim})
	return err
}
