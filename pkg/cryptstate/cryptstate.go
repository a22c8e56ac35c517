// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package cryptstate implements Mumble's OCB-AES128 authenticated voice
// channel: a 16-byte key, a 128-bit rolling nonce per direction, a
// replay window, and the good/late/lost/resync health counters reported
// back to clients over Ping.
package cryptstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/bits"
	"time"

	"github.com/sozsub/zumble/pkg/syncutil"
)

const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16
	// blockSize is the OCB block size (== AES block size).
	blockSize = 16
	// HeaderSize is the 4-byte OCB framing header prepended on the wire.
	HeaderSize = 4
)

// DecryptError distinguishes the reasons a Decrypt call can fail; callers
// (the UDP receiver, the cleanup/resync paths) branch on these.
type DecryptError struct {
	Kind string
	Err  error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cryptstate: %s: %v", e.Kind, e.Err)
	}
	return "cryptstate: " + e.Kind
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Sentinel decrypt error kinds, checked with errors.Is against a
// *DecryptError whose Kind matches.
var (
	ErrEof    = &DecryptError{Kind: "eof"}
	ErrRepeat = &DecryptError{Kind: "repeat"}
	ErrLate   = &DecryptError{Kind: "late"}
	ErrMac    = &DecryptError{Kind: "mac"}
)

func (e *DecryptError) Is(target error) bool {
	t, ok := target.(*DecryptError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// nonce128 is a 128-bit counter stored little-endian (byte 0 is the
// low-order byte, matching the wire header and CryptSetup encoding).
type nonce128 [16]byte

func (n nonce128) lo() uint64 {
	return uint64(n[0]) | uint64(n[1])<<8 | uint64(n[2])<<16 | uint64(n[3])<<24 |
		uint64(n[4])<<32 | uint64(n[5])<<40 | uint64(n[6])<<48 | uint64(n[7])<<56
}

func (n nonce128) hi() uint64 {
	return uint64(n[8]) | uint64(n[9])<<8 | uint64(n[10])<<16 | uint64(n[11])<<24 |
		uint64(n[12])<<32 | uint64(n[13])<<40 | uint64(n[14])<<48 | uint64(n[15])<<56
}

func nonceFrom(hi, lo uint64) nonce128 {
	var n nonce128
	for i := 0; i < 8; i++ {
		n[i] = byte(lo >> (8 * i))
		n[8+i] = byte(hi >> (8 * i))
	}
	return n
}

// addSigned adds a signed delta (positive or negative) to n, wrapping at
// 2^128, mirroring Rust's `decrypt_nonce.wrapping_add(diff as u128)` where
// diff is sign-extended before the wrapping add.
func (n nonce128) addSigned(delta int8) nonce128 {
	ext := uint64(0)
	if delta < 0 {
		ext = ^uint64(0)
	}
	lo2, carry := bits.Add64(n.lo(), uint64(int64(delta)), 0)
	hi2, _ := bits.Add64(n.hi(), ext, carry)
	return nonceFrom(hi2, lo2)
}

func (n nonce128) addOne() nonce128 {
	lo2, carry := bits.Add64(n.lo(), 1, 0)
	hi2, _ := bits.Add64(n.hi(), 0, carry)
	return nonceFrom(hi2, lo2)
}

// State is a Client's OCB-AES128 crypt channel. The client's run loop
// encrypts outbound packets while the UDP receive loop decrypts inbound
// ones, so every operation below holds the bounded-wait lock and
// surfaces syncutil.ErrLockTimeout rather than hanging; the critical
// sections never touch the network.
type State struct {
	Key [KeySize]byte

	mu           syncutil.TimedRWMutex
	encryptNonce nonce128
	decryptNonce nonce128
	history      [256]byte

	block cipher.Block

	Good   uint32
	Late   uint32
	Lost   uint32
	Resync uint32

	LastGood time.Time
}

// Stats is a point-in-time snapshot of the channel's health counters,
// reported back over Ping and the HTTP status endpoint.
type Stats struct {
	Good     uint32
	Late     uint32
	Lost     uint32
	Resync   uint32
	LastGood time.Time
}

// New creates a crypt channel with a freshly-generated random key. The
// encrypt nonce starts at 0, the decrypt nonce at 1<<127.
func New() (*State, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("cryptstate: generate key: %w", err)
	}
	return NewWithKey(key)
}

// NewWithKey builds a crypt channel from an explicit key, used when a
// client tells us to resync with a previously negotiated key.
func NewWithKey(key [KeySize]byte) (*State, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptstate: new aes cipher: %w", err)
	}
	s := &State{
		Key:      key,
		block:    block,
		LastGood: time.Now(),
	}
	s.decryptNonce[15] = 0x80 // 1 << 127, little-endian top byte high bit
	return s, nil
}

// Reset re-seeds both nonces, clears the replay window and counters, but
// never rotates the key.
func (s *State) Reset() error {
	if err := s.mu.Lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.encryptNonce = nonce128{}
	s.decryptNonce = nonce128{}
	s.decryptNonce[15] = 0x80
	s.history = [256]byte{}
	s.Good, s.Late, s.Lost, s.Resync = 0, 0, 0, 0
	s.LastGood = time.Now()
	return nil
}

// EncryptNonce returns the current encrypt nonce, little-endian, as used
// by CryptSetup's server_nonce field.
func (s *State) EncryptNonce() ([16]byte, error) {
	if err := s.mu.RLock(); err != nil {
		return [16]byte{}, err
	}
	defer s.mu.RUnlock()
	return [16]byte(s.encryptNonce), nil
}

// DecryptNonce returns the current decrypt nonce, little-endian, as used
// by CryptSetup's client_nonce field.
func (s *State) DecryptNonce() ([16]byte, error) {
	if err := s.mu.RLock(); err != nil {
		return [16]byte{}, err
	}
	defer s.mu.RUnlock()
	return [16]byte(s.decryptNonce), nil
}

// SetDecryptNonce installs a client-supplied nonce (little-endian) and
// bumps the resync counter.
func (s *State) SetDecryptNonce(nonce [16]byte) error {
	if err := s.mu.Lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.decryptNonce = nonce128(nonce)
	s.Resync++
	return nil
}

// Stats snapshots the health counters.
func (s *State) Stats() (Stats, error) {
	if err := s.mu.RLock(); err != nil {
		return Stats{}, err
	}
	defer s.mu.RUnlock()
	return Stats{
		Good:     s.Good,
		Late:     s.Late,
		Lost:     s.Lost,
		Resync:   s.Resync,
		LastGood: s.LastGood,
	}, nil
}

func (s *State) aesEncryptBlock(in [16]byte) [16]byte {
	var out [16]byte
	s.block.Encrypt(out[:], in[:])
	return out
}

func (s *State) aesDecryptBlock(in [16]byte) [16]byte {
	var out [16]byte
	s.block.Decrypt(out[:], in[:])
	return out
}

func xorBlock(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// s2 doubles a 128-bit value in GF(2^128): left-rotate by one bit, XORing
// 0x86 into the low byte if the top bit was set (the standard OCB offset
// update). The block is treated big-endian: block[0] holds the MSB.
func s2(block [16]byte) [16]byte {
	carry := block[0] >> 7
	var out [16]byte
	for i := 0; i < 15; i++ {
		out[i] = (block[i] << 1) | (block[i+1] >> 7)
	}
	out[15] = (block[15] << 1) | carry
	if carry != 0 {
		out[15] ^= 0x86
	}
	return out
}

func beBlockFromInt(v uint64) [16]byte {
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[15-i] = byte(v >> (8 * i))
	}
	return out
}

// ocbEncrypt runs AES-128-OCB over buf in place, returning the 128-bit
// authentication tag. The initial offset is AES(nonce) where nonce is the
// little-endian counter bytes taken directly as the AES input block (the
// Rust reference's to_be()/to_be_bytes() round trip cancels out to this).
func (s *State) ocbEncrypt(buf []byte, nonce [16]byte) [16]byte {
	offset := s.aesEncryptBlock(nonce)
	var checksum [16]byte

	for len(buf) > blockSize {
		chunk := buf[:blockSize]
		buf = buf[blockSize:]

		offset = s2(offset)

		var plain [16]byte
		copy(plain[:], chunk)

		enc := s.aesEncryptBlock(xorBlock(offset, plain))
		enc = xorBlock(enc, offset)
		copy(chunk, enc[:])

		checksum = xorBlock(checksum, plain)
	}

	offset = s2(offset)
	length := len(buf)
	pad := s.aesEncryptBlock(xorBlock(beBlockFromInt(uint64(length*8)), offset))

	block := pad
	copy(block[:], buf)
	enc := xorBlock(pad, block)
	copy(buf, enc[:length])

	checksum = xorBlock(checksum, block)

	return s.aesEncryptBlock(xorBlock(xorBlock(offset, s2(offset)), checksum))
}

func (s *State) ocbDecrypt(buf []byte, nonce [16]byte) [16]byte {
	offset := s.aesEncryptBlock(nonce)
	var checksum [16]byte

	for len(buf) > blockSize {
		chunk := buf[:blockSize]
		buf = buf[blockSize:]

		offset = s2(offset)

		var enc [16]byte
		copy(enc[:], chunk)

		plain := xorBlock(s.aesDecryptBlock(xorBlock(offset, enc)), offset)
		copy(chunk, plain[:])

		checksum = xorBlock(checksum, plain)
	}

	offset = s2(offset)
	length := len(buf)
	pad := s.aesEncryptBlock(xorBlock(beBlockFromInt(uint64(length*8)), offset))

	var block [16]byte
	copy(block[:], buf)
	plain := xorBlock(block, pad)
	copy(buf, plain[:length])

	checksum = xorBlock(checksum, plain)

	return s.aesEncryptBlock(xorBlock(xorBlock(offset, s2(offset)), checksum))
}

// Encrypt returns a new slice holding the 4-byte OCB header followed by
// the ciphertext for plaintext, advancing the encrypt nonce first.
func (s *State) Encrypt(plaintext []byte) ([]byte, error) {
	if err := s.mu.Lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	s.encryptNonce = s.encryptNonce.addOne()

	body := make([]byte, len(plaintext))
	copy(body, plaintext)
	tag := s.ocbEncrypt(body, [16]byte(s.encryptNonce))

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, s.encryptNonce[0], tag[0], tag[1], tag[2])
	out = append(out, body...)
	return out, nil
}

// Overhead is the number of extra bytes Encrypt adds beyond the
// plaintext length (the 4-byte framing header).
func (s *State) Overhead() int { return HeaderSize }

// Decrypt authenticates and decrypts a datagram, returning the
// plaintext. The decrypt nonce is restored to its pre-call value on any
// failure, so a bad datagram never desynchronizes the channel.
func (s *State) Decrypt(datagram []byte) ([]byte, error) {
	if len(datagram) < HeaderSize {
		return nil, ErrEof
	}
	if err := s.mu.Lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	header := datagram[:HeaderSize]
	body := datagram[HeaderSize:]
	nonce0 := header[0]

	saved := s.decryptNonce
	late := false
	lostDelta := int32(0)

	inOrder := s.decryptNonce.addOne()
	if inOrder[0] == nonce0 {
		s.decryptNonce = inOrder
	} else {
		diff := int8(nonce0 - s.decryptNonce[0])
		s.decryptNonce = s.decryptNonce.addSigned(diff)

		switch {
		case diff > 0:
			lostDelta = int32(diff) - 1
		case diff > -30:
			if s.history[nonce0] == s.decryptNonce[1] {
				s.decryptNonce = saved
				return nil, ErrRepeat
			}
			late = true
			lostDelta = -1
		default:
			s.decryptNonce = saved
			return nil, ErrLate
		}
	}

	plain := make([]byte, len(body))
	copy(plain, body)
	tag := s.ocbDecrypt(plain, [16]byte(s.decryptNonce))

	if subtle.ConstantTimeCompare(header[1:4], tag[:3]) != 1 {
		s.decryptNonce = saved
		return nil, ErrMac
	}

	s.history[nonce0] = s.decryptNonce[1]
	s.Good++
	s.LastGood = time.Now()

	if late {
		s.Late++
		s.decryptNonce = saved
	}

	s.Lost = saturatingAddI32(s.Lost, lostDelta)

	return plain, nil
}

func saturatingAddI32(u uint32, delta int32) uint32 {
	v := int64(u) + int64(delta)
	if v < 0 {
		return 0
	}
	if v > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
