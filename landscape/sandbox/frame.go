package sandbox

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes bounds a single frame's payload so a misbehaving or
// corrupted worker can't make the orchestrator allocate without limit
// trying to honor a bogus length prefix.
const maxFrameBytes = 64 << 20 // 64 MiB

// frameWriter encodes values as length-prefixed msgpack frames: a 4-byte
// big-endian payload length followed by that many bytes of msgpack
// (spec §4.13: "length-prefixed msgpack frames over stdin/stdout").
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

func (fw *frameWriter) WriteFrame(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("sandbox: marshal frame: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := fw.w.Write(header[:]); err != nil {
		return fmt.Errorf("sandbox: write frame header: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("sandbox: write frame payload: %w", err)
	}
	return nil
}

// frameReader decodes length-prefixed msgpack frames written by
// frameWriter.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until the next full frame arrives and unmarshals its
// payload into v. io.EOF is returned unwrapped when the peer has closed its
// write side cleanly between frames.
func (fr *frameReader) ReadFrame(v any) error {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("sandbox: truncated frame header: %w", err)
		}
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return fmt.Errorf("sandbox: frame length %d exceeds %d byte limit", length, maxFrameBytes)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return fmt.Errorf("sandbox: read frame payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("sandbox: unmarshal frame: %w", err)
	}
	return nil
}
