// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package wire defines the deterministic on-wire and on-disk types shared
// by the directory, server, and client: identifiers, framing, canonical
// binary encoding, certificate chains, and the RPC error taxonomy.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Encoder builds a canonical, length-prefixed binary encoding: the same
// logical value always produces the same bytes, independent of map
// iteration order or allocation history. Every type whose bytes are
// signed or hashed MUST route through an Encoder rather than
// encoding/json or encoding/gob, neither of which promise stability.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128)}
}

// Bytes returns the accumulated canonical encoding.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// U8 appends a single byte.
func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

// U64 appends a big-endian uint64.
func (e *Encoder) U64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// I64 appends a big-endian int64.
func (e *Encoder) I64(v int64) *Encoder {
	return e.U64(uint64(v))
}

// Bytes32 appends exactly 32 raw bytes, panicking if b is the wrong
// length: callers use this only for fixed-size fields (hashes, keys).
func (e *Encoder) Bytes32(b []byte) *Encoder {
	if len(b) != 32 {
		panic(fmt.Sprintf("wire: Bytes32 got %d bytes", len(b)))
	}
	e.buf = append(e.buf, b...)
	return e
}

// Blob appends a length-prefixed variable-size byte string: a 4-byte
// big-endian length followed by the raw bytes.
func (e *Encoder) Blob(b []byte) *Encoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, b...)
	return e
}

// Str appends a length-prefixed UTF-8 string.
func (e *Encoder) Str(s string) *Encoder {
	return e.Blob([]byte(s))
}

// Decoder reads back values appended by Encoder, in the same order.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps b for sequential decoding.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// ErrShortBuffer is returned when a Decoder read runs past the end of
// its buffer.
var ErrShortBuffer = fmt.Errorf("wire: short buffer")

func (d *Decoder) need(n int) error {
	if len(d.buf)-d.pos < n {
		return ErrShortBuffer
	}
	return nil
}

// U8 reads a single byte.
func (d *Decoder) U8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// U64 reads a big-endian uint64.
func (d *Decoder) U64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

// I64 reads a big-endian int64.
func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

// Bytes32 reads exactly 32 raw bytes.
func (d *Decoder) Bytes32() ([]byte, error) {
	if err := d.need(32); err != nil {
		return nil, err
	}
	out := append([]byte(nil), d.buf[d.pos:d.pos+32]...)
	d.pos += 32
	return out, nil
}

// Blob reads a length-prefixed variable-size byte string.
func (d *Decoder) Blob() ([]byte, error) {
	if err := d.need(4); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := append([]byte(nil), d.buf[d.pos:d.pos+int(n)]...)
	d.pos += int(n)
	return out, nil
}

// Str reads a length-prefixed UTF-8 string.
func (d *Decoder) Str() (string, error) {
	b, err := d.Blob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Done reports whether the Decoder has consumed the entire buffer.
func (d *Decoder) Done() bool {
	return d.pos == len(d.buf)
}
