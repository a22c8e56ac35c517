// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package mumbleproto

import "google.golang.org/protobuf/encoding/protowire"

// Ptr helpers for building messages whose optional fields are pointers.
func Uint32Ptr(v uint32) *uint32 { return &v }
func BoolPtr(v bool) *bool       { return &v }
func StringPtr(v string) *string { return &v }

// Version carries the protocol/client version handshake.
type Version struct {
	Proto     uint32
	Release   string
	OS        string
	OSVersion string
}

func (*Version) Kind() Kind { return KindVersion }

func (m *Version) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Proto))
	if m.Release != "" {
		b = appendString(b, 2, m.Release)
	}
	if m.OS != "" {
		b = appendString(b, 3, m.OS)
	}
	if m.OSVersion != "" {
		b = appendString(b, 4, m.OSVersion)
	}
	return b
}

func (m *Version) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Proto = uint32(varintVal(val))
		case 2:
			m.Release = string(val)
		case 3:
			m.OS = string(val)
		case 4:
			m.OSVersion = string(val)
		}
		return nil
	})
}

// Authenticate carries the client's requested identity.
type Authenticate struct {
	Username     string
	Password     string
	Tokens       []string
	CeltVersions []int32
	Opus         bool
}

func (*Authenticate) Kind() Kind { return KindAuthenticate }

func (m *Authenticate) Marshal() []byte {
	var b []byte
	if m.Username != "" {
		b = appendString(b, 1, m.Username)
	}
	if m.Password != "" {
		b = appendString(b, 2, m.Password)
	}
	for _, t := range m.Tokens {
		b = appendString(b, 3, t)
	}
	for _, c := range m.CeltVersions {
		b = appendVarint(b, 4, uint64(uint32(c)))
	}
	b = appendBool(b, 5, m.Opus)
	return b
}

func (m *Authenticate) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Username = string(val)
		case 2:
			m.Password = string(val)
		case 3:
			m.Tokens = append(m.Tokens, string(val))
		case 4:
			m.CeltVersions = append(m.CeltVersions, int32(varintVal(val)))
		case 5:
			m.Opus = varintVal(val) != 0
		}
		return nil
	})
}

// Ping is exchanged both at connect time and periodically to carry the
// crypt channel's health counters.
type Ping struct {
	Timestamp uint64
	Good      uint32
	Late      uint32
	Lost      uint32
	Resync    uint32
}

func (*Ping) Kind() Kind { return KindPing }

func (m *Ping) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.Timestamp)
	b = appendVarint(b, 2, uint64(m.Good))
	b = appendVarint(b, 3, uint64(m.Late))
	b = appendVarint(b, 4, uint64(m.Lost))
	b = appendVarint(b, 5, uint64(m.Resync))
	return b
}

func (m *Ping) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Timestamp = varintVal(val)
		case 2:
			m.Good = uint32(varintVal(val))
		case 3:
			m.Late = uint32(varintVal(val))
		case 4:
			m.Lost = uint32(varintVal(val))
		case 5:
			m.Resync = uint32(varintVal(val))
		}
		return nil
	})
}

// RejectType mirrors Mumble's Reject.RejectType enum.
type RejectType int32

const (
	RejectNone              RejectType = 0
	RejectWrongVersion      RejectType = 1
	RejectInvalidUsername   RejectType = 2
	RejectWrongUserPW       RejectType = 3
	RejectUsernameInUse     RejectType = 4
	RejectServerFull        RejectType = 5
	RejectNoCertificate     RejectType = 6
)

// Reject is sent when the handshake cannot proceed.
type Reject struct {
	Type   RejectType
	Reason string
}

func (*Reject) Kind() Kind { return KindReject }

func (m *Reject) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.Type)))
	if m.Reason != "" {
		b = appendString(b, 2, m.Reason)
	}
	return b
}

func (m *Reject) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Type = RejectType(int32(varintVal(val)))
		case 2:
			m.Reason = string(val)
		}
		return nil
	})
}

// ServerSync completes the handshake, handing the client its session id.
type ServerSync struct {
	Session      uint32
	MaxBandwidth uint32
	WelcomeText  string
}

func (*ServerSync) Kind() Kind { return KindServerSync }

func (m *ServerSync) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Session))
	b = appendVarint(b, 2, uint64(m.MaxBandwidth))
	if m.WelcomeText != "" {
		b = appendString(b, 3, m.WelcomeText)
	}
	return b
}

func (m *ServerSync) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Session = uint32(varintVal(val))
		case 2:
			m.MaxBandwidth = uint32(varintVal(val))
		case 3:
			m.WelcomeText = string(val)
		}
		return nil
	})
}

// ChannelRemove announces a channel's removal.
type ChannelRemove struct {
	ChannelID uint32
}

func (*ChannelRemove) Kind() Kind { return KindChannelRemove }

func (m *ChannelRemove) Marshal() []byte {
	return appendVarint(nil, 1, uint64(m.ChannelID))
}

func (m *ChannelRemove) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == 1 {
			m.ChannelID = uint32(varintVal(val))
		}
		return nil
	})
}

// ChannelState both creates channels (this server accepts no edits) and
// announces their state to clients.
type ChannelState struct {
	ChannelID       uint32
	Parent          *uint32
	Name            string
	Description     string
	Temporary       bool
	Position        int32
	DescriptionHash []byte
}

func (*ChannelState) Kind() Kind { return KindChannelState }

func (m *ChannelState) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ChannelID))
	if m.Parent != nil {
		b = appendVarint(b, 2, uint64(*m.Parent))
	}
	if m.Name != "" {
		b = appendString(b, 3, m.Name)
	}
	if m.Description != "" {
		b = appendString(b, 5, m.Description)
	}
	b = appendBool(b, 7, m.Temporary)
	b = appendVarint(b, 8, uint64(uint32(m.Position)))
	if len(m.DescriptionHash) > 0 {
		b = appendBytes(b, 10, m.DescriptionHash)
	}
	return b
}

func (m *ChannelState) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.ChannelID = uint32(varintVal(val))
		case 2:
			p := uint32(varintVal(val))
			m.Parent = &p
		case 3:
			m.Name = string(val)
		case 5:
			m.Description = string(val)
		case 7:
			m.Temporary = varintVal(val) != 0
		case 8:
			m.Position = int32(varintVal(val))
		case 10:
			m.DescriptionHash = append([]byte(nil), val...)
		}
		return nil
	})
}

// UserRemove announces that a client disconnected or was kicked.
type UserRemove struct {
	Session uint32
	Actor   *uint32
	Reason  string
	Ban     bool
}

func (*UserRemove) Kind() Kind { return KindUserRemove }

func (m *UserRemove) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Session))
	if m.Actor != nil {
		b = appendVarint(b, 2, uint64(*m.Actor))
	}
	if m.Reason != "" {
		b = appendString(b, 3, m.Reason)
	}
	b = appendBool(b, 4, m.Ban)
	return b
}

func (m *UserRemove) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Session = uint32(varintVal(val))
		case 2:
			a := uint32(varintVal(val))
			m.Actor = &a
		case 3:
			m.Reason = string(val)
		case 4:
			m.Ban = varintVal(val) != 0
		}
		return nil
	})
}

// UserState carries both the full state broadcast at sync time and
// incremental updates (mute/deaf/channel move/listening channels).
type UserState struct {
	Session                uint32
	Actor                  *uint32
	Name                   string
	ChannelID              *uint32
	Mute                   *bool
	Deaf                   *bool
	Suppress               *bool
	SelfMute               *bool
	SelfDeaf               *bool
	PluginIdentity         string
	Comment                string
	PrioritySpeaker        *bool
	Recording              *bool
	ListeningChannelAdd    []uint32
	ListeningChannelRemove []uint32
}

func (*UserState) Kind() Kind { return KindUserState }

func (m *UserState) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Session))
	if m.Actor != nil {
		b = appendVarint(b, 2, uint64(*m.Actor))
	}
	if m.Name != "" {
		b = appendString(b, 3, m.Name)
	}
	if m.ChannelID != nil {
		b = appendVarint(b, 5, uint64(*m.ChannelID))
	}
	if m.Mute != nil {
		b = appendBool(b, 6, *m.Mute)
	}
	if m.Deaf != nil {
		b = appendBool(b, 7, *m.Deaf)
	}
	if m.Suppress != nil {
		b = appendBool(b, 8, *m.Suppress)
	}
	if m.SelfMute != nil {
		b = appendBool(b, 9, *m.SelfMute)
	}
	if m.SelfDeaf != nil {
		b = appendBool(b, 10, *m.SelfDeaf)
	}
	if m.PluginIdentity != "" {
		b = appendString(b, 13, m.PluginIdentity)
	}
	if m.Comment != "" {
		b = appendString(b, 14, m.Comment)
	}
	if m.PrioritySpeaker != nil {
		b = appendBool(b, 18, *m.PrioritySpeaker)
	}
	if m.Recording != nil {
		b = appendBool(b, 19, *m.Recording)
	}
	for _, c := range m.ListeningChannelAdd {
		b = appendVarint(b, 20, uint64(c))
	}
	for _, c := range m.ListeningChannelRemove {
		b = appendVarint(b, 21, uint64(c))
	}
	return b
}

func (m *UserState) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Session = uint32(varintVal(val))
		case 2:
			a := uint32(varintVal(val))
			m.Actor = &a
		case 3:
			m.Name = string(val)
		case 5:
			c := uint32(varintVal(val))
			m.ChannelID = &c
		case 6:
			v := varintVal(val) != 0
			m.Mute = &v
		case 7:
			v := varintVal(val) != 0
			m.Deaf = &v
		case 8:
			v := varintVal(val) != 0
			m.Suppress = &v
		case 9:
			v := varintVal(val) != 0
			m.SelfMute = &v
		case 10:
			v := varintVal(val) != 0
			m.SelfDeaf = &v
		case 13:
			m.PluginIdentity = string(val)
		case 14:
			m.Comment = string(val)
		case 18:
			v := varintVal(val) != 0
			m.PrioritySpeaker = &v
		case 19:
			v := varintVal(val) != 0
			m.Recording = &v
		case 20:
			m.ListeningChannelAdd = append(m.ListeningChannelAdd, uint32(varintVal(val)))
		case 21:
			m.ListeningChannelRemove = append(m.ListeningChannelRemove, uint32(varintVal(val)))
		}
		return nil
	})
}

// CryptSetup carries OCB-AES128 key/nonce material during the handshake
// and during nonce resync.
type CryptSetup struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

func (*CryptSetup) Kind() Kind { return KindCryptSetup }

func (m *CryptSetup) Marshal() []byte {
	var b []byte
	if len(m.Key) > 0 {
		b = appendBytes(b, 1, m.Key)
	}
	if len(m.ClientNonce) > 0 {
		b = appendBytes(b, 2, m.ClientNonce)
	}
	if len(m.ServerNonce) > 0 {
		b = appendBytes(b, 3, m.ServerNonce)
	}
	return b
}

func (m *CryptSetup) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Key = append([]byte(nil), val...)
		case 2:
			m.ClientNonce = append([]byte(nil), val...)
		case 3:
			m.ServerNonce = append([]byte(nil), val...)
		}
		return nil
	})
}

// PermissionQuery answers a client's request for its effective
// permission mask in a channel.
type PermissionQuery struct {
	ChannelID   uint32
	Permissions uint32
}

func (*PermissionQuery) Kind() Kind { return KindPermissionQuery }

func (m *PermissionQuery) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ChannelID))
	b = appendVarint(b, 2, uint64(m.Permissions))
	return b
}

func (m *PermissionQuery) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.ChannelID = uint32(varintVal(val))
		case 2:
			m.Permissions = uint32(varintVal(val))
		}
		return nil
	})
}

// CodecVersion announces the server-wide preferred codec set.
type CodecVersion struct {
	Alpha       int32
	Beta        int32
	PreferAlpha bool
	Opus        bool
}

func (*CodecVersion) Kind() Kind { return KindCodecVersion }

func (m *CodecVersion) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.Alpha)))
	b = appendVarint(b, 2, uint64(uint32(m.Beta)))
	b = appendBool(b, 3, m.PreferAlpha)
	b = appendBool(b, 4, m.Opus)
	return b
}

func (m *CodecVersion) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.Alpha = int32(varintVal(val))
		case 2:
			m.Beta = int32(varintVal(val))
		case 3:
			m.PreferAlpha = varintVal(val) != 0
		case 4:
			m.Opus = varintVal(val) != 0
		}
		return nil
	})
}

// VoiceTargetEntry is one Target within a VoiceTarget message: either an
// explicit set of sessions or a whole channel (with optional subtree).
type VoiceTargetEntry struct {
	Sessions  []uint32
	ChannelID *uint32
	Links     bool
	Children  bool
}

// VoiceTarget assigns sessions/channels to one of a client's 30 target
// slots, addressed on the wire as 1-30.
type VoiceTarget struct {
	ID      uint32
	Targets []VoiceTargetEntry
}

func (*VoiceTarget) Kind() Kind { return KindVoiceTarget }

func (m *VoiceTarget) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.ID))
	for _, t := range m.Targets {
		var tb []byte
		for _, s := range t.Sessions {
			tb = appendVarint(tb, 1, uint64(s))
		}
		if t.ChannelID != nil {
			tb = appendVarint(tb, 2, uint64(*t.ChannelID))
		}
		tb = appendBool(tb, 4, t.Links)
		tb = appendBool(tb, 5, t.Children)
		b = appendBytes(b, 2, tb)
	}
	return b
}

func (m *VoiceTarget) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.ID = uint32(varintVal(val))
		case 2:
			var t VoiceTargetEntry
			if err := walkFields(val, func(n2 protowire.Number, t2 protowire.Type, v2 []byte) error {
				switch n2 {
				case 1:
					t.Sessions = append(t.Sessions, uint32(varintVal(v2)))
				case 2:
					c := uint32(varintVal(v2))
					t.ChannelID = &c
				case 4:
					t.Links = varintVal(v2) != 0
				case 5:
					t.Children = varintVal(v2) != 0
				}
				return nil
			}); err != nil {
				return err
			}
			m.Targets = append(m.Targets, t)
		}
		return nil
	})
}

// ServerConfig announces server-wide limits at sync time.
type ServerConfig struct {
	MaxBandwidth       uint32
	WelcomeText        string
	AllowHTML          bool
	MessageLength      uint32
	ImageMessageLength uint32
}

func (*ServerConfig) Kind() Kind { return KindServerConfig }

func (m *ServerConfig) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.MaxBandwidth))
	if m.WelcomeText != "" {
		b = appendString(b, 2, m.WelcomeText)
	}
	b = appendBool(b, 3, m.AllowHTML)
	b = appendVarint(b, 4, uint64(m.MessageLength))
	b = appendVarint(b, 5, uint64(m.ImageMessageLength))
	return b
}

func (m *ServerConfig) Unmarshal(buf []byte) error {
	return walkFields(buf, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			m.MaxBandwidth = uint32(varintVal(val))
		case 2:
			m.WelcomeText = string(val)
		case 3:
			m.AllowHTML = varintVal(val) != 0
		case 4:
			m.MessageLength = uint32(varintVal(val))
		case 5:
			m.ImageMessageLength = uint32(varintVal(val))
		}
		return nil
	})
}
