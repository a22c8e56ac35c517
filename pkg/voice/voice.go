// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package voice implements the wire codec for Mumble's UDP voice
// datagrams: a one-byte header (codec kind + target) followed by a
// varint-framed body, shared by the UDPTunnel control message and raw
// UDP datagrams alike.
package voice

import (
	"errors"
	"fmt"

	"github.com/sozsub/zumble/pkg/varint"
)

// Codec identifies which audio codec produced a packet's payload.
type Codec int

const (
	CodecCELTAlpha Codec = 0
	CodecSpeex     Codec = 2
	CodecCELTBeta  Codec = 3
	CodecOpus      Codec = 4
)

// kind values as packed into the high 3 bits of the header byte.
const (
	kindCELTAlpha = 0
	kindPing      = 1
	kindSpeex     = 2
	kindCELTBeta  = 3
	kindOpus      = 4
)

// Target values with protocol-defined meaning; 1-30 are whisper slots.
const (
	TargetChannel  = 0
	TargetLoopback = 31
)

// ErrInvalidKind is returned when a header's kind bits name a codec this
// server doesn't understand.
var ErrInvalidKind = errors.New("voice: invalid packet kind")

// ErrShort is returned when a packet is truncated mid-frame.
var ErrShort = errors.New("voice: truncated packet")

// Packet is a decoded voice datagram: either a ping echo or an audio frame.
type Packet struct {
	IsPing bool

	// Ping fields.
	Timestamp uint64

	// Audio fields.
	Target    uint8
	Codec     Codec
	SessionID uint32 // only meaningful client-bound; zero otherwise
	SeqNum    uint64
	Frames    [][]byte // CELT/Speex: one or more frames; Opus: exactly one
	OpusEOT   bool     // Opus end-of-transmission bit
	Position  []byte   // opaque trailing positional-audio bytes
}

// Decode parses buf as a voice packet. clientBound selects whether a
// leading varint session id is expected (true) or absent (false, i.e.
// server-bound packets coming from a client).
func Decode(buf []byte, clientBound bool) (*Packet, error) {
	if len(buf) < 1 {
		return nil, ErrShort
	}
	header := buf[0]
	kind := header >> 5
	target := header & 0x1f
	rest := buf[1:]

	if kind == kindPing {
		ts, _, err := varint.ReadSlice(rest)
		if err != nil {
			return nil, fmt.Errorf("voice: decode ping timestamp: %w", err)
		}
		return &Packet{IsPing: true, Timestamp: ts}, nil
	}

	p := &Packet{Target: target}
	switch kind {
	case kindCELTAlpha:
		p.Codec = CodecCELTAlpha
	case kindSpeex:
		p.Codec = CodecSpeex
	case kindCELTBeta:
		p.Codec = CodecCELTBeta
	case kindOpus:
		p.Codec = CodecOpus
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}

	if clientBound {
		sid, n, err := varint.ReadSlice(rest)
		if err != nil {
			return nil, fmt.Errorf("voice: decode session id: %w", err)
		}
		p.SessionID = uint32(sid)
		rest = rest[n:]
	}

	seq, n, err := varint.ReadSlice(rest)
	if err != nil {
		return nil, fmt.Errorf("voice: decode seq num: %w", err)
	}
	p.SeqNum = seq
	rest = rest[n:]

	switch p.Codec {
	case CodecCELTAlpha, CodecSpeex, CodecCELTBeta:
		for {
			if len(rest) < 1 {
				return nil, ErrShort
			}
			flag := rest[0]
			rest = rest[1:]
			length := int(flag & 0x7f)
			if len(rest) < length {
				return nil, ErrShort
			}
			p.Frames = append(p.Frames, rest[:length])
			rest = rest[length:]
			if flag&0x80 == 0 {
				break
			}
		}
	case CodecOpus:
		hdr, n, err := varint.ReadSlice(rest)
		if err != nil {
			return nil, fmt.Errorf("voice: decode opus header: %w", err)
		}
		rest = rest[n:]
		p.OpusEOT = hdr&0x2000 != 0
		length := int(hdr &^ 0x2000)
		if len(rest) < length {
			return nil, ErrShort
		}
		p.Frames = [][]byte{rest[:length]}
		rest = rest[length:]
	}

	if len(rest) > 0 {
		p.Position = rest
	}

	return p, nil
}

// Encode serialises p, including the leading session id iff clientBound.
func Encode(p *Packet, clientBound bool) []byte {
	if p.IsPing {
		buf := []byte{kindPing << 5}
		return varint.Append(buf, p.Timestamp)
	}

	var kind byte
	switch p.Codec {
	case CodecCELTAlpha:
		kind = kindCELTAlpha
	case CodecSpeex:
		kind = kindSpeex
	case CodecCELTBeta:
		kind = kindCELTBeta
	case CodecOpus:
		kind = kindOpus
	}

	buf := make([]byte, 0, 32)
	buf = append(buf, (kind<<5)|(p.Target&0x1f))
	if clientBound {
		buf = varint.Append(buf, uint64(p.SessionID))
	}
	buf = varint.Append(buf, p.SeqNum)

	switch p.Codec {
	case CodecCELTAlpha, CodecSpeex, CodecCELTBeta:
		for i, frame := range p.Frames {
			flag := byte(len(frame) & 0x7f)
			if i != len(p.Frames)-1 {
				flag |= 0x80
			}
			buf = append(buf, flag)
			buf = append(buf, frame...)
		}
	case CodecOpus:
		var frame []byte
		if len(p.Frames) > 0 {
			frame = p.Frames[0]
		}
		hdr := uint64(len(frame))
		if p.OpusEOT {
			hdr |= 0x2000
		}
		buf = varint.Append(buf, hdr)
		buf = append(buf, frame...)
	}

	if len(p.Position) > 0 {
		buf = append(buf, p.Position...)
	}

	return buf
}

// WithSessionID returns a shallow copy of p stamped with sid, used to turn
// a server-bound packet into its client-bound form once the sender's
// session is known.
func (p *Packet) WithSessionID(sid uint32) *Packet {
	cp := *p
	cp.SessionID = sid
	return &cp
}
