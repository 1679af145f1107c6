// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb

// Capability documents served through qXfer when the configuration doesn't
// provide its own.
const (
	DefaultTargetXML = `<?xml version="1.0"?>` +
		`<!DOCTYPE feature SYSTEM "gdb-target.dtd">` +
		`<target version="1.0"></target>`

	DefaultMemoryMapXML = `<?xml version="1.0"?>` +
		`<memory-map></memory-map>`
)

// PacketSize is MaxPacketSize in hex.
const supportedFeatures = "PacketSize=4000;qXfer:features:read+;qXfer:memory-map:read+;QStartNoAckMode+"

// xferChunk returns the part of doc selected by a qXfer "offset,length"
// request, prefixed with 'm' if more data follows or 'l' if it is the last
// chunk.
func xferChunk(doc string, args string) (string, error) {
	off, length, err := parseAddrLen(args)
	if err != nil {
		return "", err
	}
	if off >= uint64(len(doc)) {
		return "l", nil
	}
	if length >= uint64(len(doc))-off {
		return "l" + doc[off:], nil
	}
	return "m" + doc[off:off+length], nil
}
