// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// MaxFrameSize is the largest payload any raw-TCP or lz4tcp frame may
// carry, before or after compression. Oversize frames close the
// connection with ErrBadRequest-flavored ProtocolError.
const MaxFrameSize = 1 << 20 // 1 MiB

// ProtocolError reports a framing violation severe enough to close the
// connection: an oversize length prefix, a truncated read, or a
// corrupt LZ4 block.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "wire: protocol error: " + e.Reason
}

// WriteFrame writes b to w as a 4-byte big-endian length prefix
// followed by b itself. It is used by the raw "tcp" transport variant.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return &ProtocolError{Reason: fmt.Sprintf("frame too large: %d bytes", len(b))}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame from r, rejecting any
// declared length over MaxFrameSize before attempting to read the body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("declared frame length %d exceeds max", n)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteLZ4Frame compresses b as a single LZ4 block and writes it as
// [4B big-endian payload length][4B big-endian decoded length]
// [1B literal flag][payload], for the "lz4tcp" transport variant. When
// the compressor reports b as incompressible, the payload is b itself
// and the literal flag is 1.
func WriteLZ4Frame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return &ProtocolError{Reason: fmt.Sprintf("uncompressed frame too large: %d bytes", len(b))}
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(b)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(b, compressed)
	if err != nil {
		return fmt.Errorf("wire: lz4 compress: %w", err)
	}
	compressed = compressed[:n]
	// pierrec/lz4 returns (0, nil) for input it judges incompressible;
	// store that case as a literal block rather than an empty one.
	literal := n == 0 && len(b) > 0
	if literal {
		compressed = b
	}

	var header [9]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(compressed)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(b)))
	if literal {
		header[8] = 1
	}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// ReadLZ4Frame reads one frame written by WriteLZ4Frame, enforcing the
// 1 MiB cap on both the compressed and decompressed lengths.
func ReadLZ4Frame(r io.Reader) ([]byte, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	compLen := binary.BigEndian.Uint32(header[0:4])
	declLen := binary.BigEndian.Uint32(header[4:8])
	literal := header[8] == 1
	if compLen > MaxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("declared compressed length %d exceeds max", compLen)}
	}
	if declLen > MaxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("declared decoded length %d exceeds max", declLen)}
	}

	comp := make([]byte, compLen)
	if _, err := io.ReadFull(r, comp); err != nil {
		return nil, err
	}

	if declLen == 0 {
		return []byte{}, nil
	}
	if literal {
		if uint32(len(comp)) != declLen {
			return nil, &ProtocolError{Reason: "lz4 literal length mismatch"}
		}
		return comp, nil
	}

	plain := make([]byte, declLen)
	n, err := lz4.UncompressBlock(comp, plain)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 decompress: %w", err)
	}
	if uint32(n) != declLen {
		return nil, &ProtocolError{Reason: "lz4 decoded length mismatch"}
	}
	return plain, nil
}
