// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errMalformed = errors.New("malformed packet")

// MaxPacketSize is the longest packet body a client may send. It matches
// the PacketSize advertised in the qSupported reply.
const MaxPacketSize = 0x4000

// Protocol bytes.
const (
	charAck       = '+'
	charNak       = '-'
	charStart     = '$'
	charEnd       = '#'
	charEscape    = '}'
	charInterrupt = 0x03
)

// Checksum returns the modulo-256 sum of the bytes of s.
func Checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

// Escape replaces the protocol's reserved characters in a payload with their
// escaped form.
func Escape(payload string) string {
	if !strings.ContainsAny(payload, "$#}*") {
		return payload
	}
	var b strings.Builder
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch c {
		case '$', '#', '}', '*':
			b.WriteByte(charEscape)
			b.WriteByte(c ^ 0x20)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses Escape.
func Unescape(s string) string {
	if strings.IndexByte(s, charEscape) < 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == charEscape && i+1 < len(s) {
			i++
			c = s[i] ^ 0x20
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Encode frames a payload as "$payload#cs".
func Encode(payload string) []byte {
	e := Escape(payload)
	return []byte(fmt.Sprintf("$%s#%02x", e, Checksum(e)))
}

type eventKind byte

const (
	eventPacket eventKind = iota
	eventAck
	eventNak
	eventInterrupt
	eventBadPacket
)

// An event is one unit read from the client: a packet, an ack or nak, or an
// interrupt request.
type event struct {
	kind    eventKind
	payload string
}

// readEvent reads the next event from r. Bytes outside a packet that carry
// no meaning are skipped.
func readEvent(r *bufio.Reader) (event, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return event{}, err
		}

		switch c {
		case charAck:
			return event{kind: eventAck}, nil
		case charNak:
			return event{kind: eventNak}, nil
		case charInterrupt:
			return event{kind: eventInterrupt}, nil
		case charStart:
			return readPacket(r)
		}
	}
}

// readPacket reads a packet body and its checksum. A body longer than
// MaxPacketSize is discarded and reported as a bad packet.
func readPacket(r *bufio.Reader) (event, error) {
	var b strings.Builder
	overflow := false
	for {
		c, err := r.ReadByte()
		if err != nil {
			return event{}, err
		}
		if c == charEnd {
			break
		}
		if b.Len() == MaxPacketSize {
			overflow = true
			continue
		}
		b.WriteByte(c)
	}

	var err error
	var cs [2]byte
	for i := range cs {
		if cs[i], err = r.ReadByte(); err != nil {
			return event{}, err
		}
	}

	if overflow {
		return event{kind: eventBadPacket}, nil
	}

	body := b.String()
	sum, err := strconv.ParseUint(string(cs[:]), 16, 8)
	if err != nil || byte(sum) != Checksum(body) {
		return event{kind: eventBadPacket}, nil
	}
	return event{kind: eventPacket, payload: Unescape(body)}, nil
}

// parseHex parses an unsigned hexadecimal field.
func parseHex(s string) (uint64, error) {
	if s == "" {
		return 0, errMalformed
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errMalformed
	}
	return v, nil
}

// parseAddrLen parses an "addr,length" pair.
func parseAddrLen(s string) (addr, length uint64, err error) {
	a, l, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, errMalformed
	}
	if addr, err = parseHex(a); err != nil {
		return 0, 0, err
	}
	if length, err = parseHex(l); err != nil {
		return 0, 0, err
	}
	return addr, length, nil
}

// decodeHexBytes decodes a string of hex digit pairs.
func decodeHexBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errMalformed
	}
	return b, nil
}
