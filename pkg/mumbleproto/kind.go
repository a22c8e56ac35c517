// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package mumbleproto implements the TLS control channel's message
// framing and the protobuf message bodies carried over it. Bodies are
// encoded by hand against google.golang.org/protobuf/encoding/protowire
// rather than through generated descriptor code, since only the wire
// format - not the full descriptor/reflection machinery - is needed
// here.
package mumbleproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies a control-channel message type. Values match Mumble's
// public wire protocol numbering.
type Kind uint16

const (
	KindVersion             Kind = 0
	KindUDPTunnel           Kind = 1
	KindAuthenticate        Kind = 2
	KindPing                Kind = 3
	KindReject              Kind = 4
	KindServerSync          Kind = 5
	KindChannelRemove       Kind = 6
	KindChannelState        Kind = 7
	KindUserRemove          Kind = 8
	KindUserState           Kind = 9
	KindBanList             Kind = 10
	KindTextMessage         Kind = 11
	KindPermissionDenied    Kind = 12
	KindACL                 Kind = 13
	KindQueryUsers          Kind = 14
	KindCryptSetup          Kind = 15
	KindContextActionModify Kind = 16
	KindContextAction       Kind = 17
	KindUserList            Kind = 18
	KindVoiceTarget         Kind = 19
	KindPermissionQuery     Kind = 20
	KindCodecVersion        Kind = 21
	KindUserStats           Kind = 22
	KindRequestBlob         Kind = 23
	KindServerConfig        Kind = 24
	KindSuggestConfig       Kind = 25
)

func (k Kind) String() string {
	switch k {
	case KindVersion:
		return "Version"
	case KindUDPTunnel:
		return "UDPTunnel"
	case KindAuthenticate:
		return "Authenticate"
	case KindPing:
		return "Ping"
	case KindReject:
		return "Reject"
	case KindServerSync:
		return "ServerSync"
	case KindChannelRemove:
		return "ChannelRemove"
	case KindChannelState:
		return "ChannelState"
	case KindUserRemove:
		return "UserRemove"
	case KindUserState:
		return "UserState"
	case KindCryptSetup:
		return "CryptSetup"
	case KindVoiceTarget:
		return "VoiceTarget"
	case KindPermissionQuery:
		return "PermissionQuery"
	case KindCodecVersion:
		return "CodecVersion"
	case KindServerConfig:
		return "ServerConfig"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// Message is a control-channel payload that knows its own Kind and how
// to marshal/unmarshal itself.
type Message interface {
	Kind() Kind
	Marshal() []byte
	Unmarshal([]byte) error
}

// WriteMessage frames m as a 2-byte big-endian kind, a 4-byte big-endian
// length, and the marshaled body, and writes it to w.
func WriteMessage(w io.Writer, m Message) (int, error) {
	body := m.Marshal()
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(m.Kind()))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	n, err := w.Write(body)
	return len(hdr) + n, err
}

// ReadHeader reads the 6-byte control message header from r.
func ReadHeader(r io.Reader) (kind Kind, length uint32, err error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	kind = Kind(binary.BigEndian.Uint16(hdr[0:2]))
	length = binary.BigEndian.Uint32(hdr[2:6])
	return kind, length, nil
}

// New constructs a zero-valued message body for kind, or nil if kind
// has no structured body in this package (e.g. UDPTunnel, whose payload
// is handled by pkg/voice instead).
func New(kind Kind) Message {
	switch kind {
	case KindVersion:
		return &Version{}
	case KindAuthenticate:
		return &Authenticate{}
	case KindPing:
		return &Ping{}
	case KindReject:
		return &Reject{}
	case KindServerSync:
		return &ServerSync{}
	case KindChannelRemove:
		return &ChannelRemove{}
	case KindChannelState:
		return &ChannelState{}
	case KindUserRemove:
		return &UserRemove{}
	case KindUserState:
		return &UserState{}
	case KindCryptSetup:
		return &CryptSetup{}
	case KindVoiceTarget:
		return &VoiceTarget{}
	case KindPermissionQuery:
		return &PermissionQuery{}
	case KindCodecVersion:
		return &CodecVersion{}
	case KindServerConfig:
		return &ServerConfig{}
	default:
		return nil
	}
}
