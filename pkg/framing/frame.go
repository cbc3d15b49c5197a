// Package framing implements the length-prefixed message framing used on the editor host socket:
// a 4-byte little-endian unsigned length followed by exactly that many bytes of UTF-8 JSON.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

// DefaultMaxFrameBytes bounds the payload size accepted by ReadFrame.
const DefaultMaxFrameBytes = 64 * 1024 * 1024

var (
	ErrClosedByPeer  = errors.New("framing: connection closed by peer")
	ErrFrameTooLarge = errors.New("framing: frame too large")
)

// WriteFrame writes one frame containing payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	var header [HeaderLen]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame blocks until one complete frame has been read and returns its payload. The stream
// ending before the declared byte count is satisfied yields ErrClosedByPeer.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readErr(err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	if maxBytes > 0 && n > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, n, maxBytes)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, readErr(err)
		}
	}
	return payload, nil
}

// WriteJSON encodes v and writes it as one frame.
func WriteJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("framing: encode: %w", err)
	}
	return WriteFrame(w, data)
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosedByPeer
	}
	return err
}
