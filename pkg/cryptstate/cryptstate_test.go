package cryptstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pair(t *testing.T) (*State, *State) {
	t.Helper()
	tx, err := New()
	require.NoError(t, err)
	rx, err := NewWithKey(tx.Key)
	require.NoError(t, err)
	// Both sides start with the same nonce seeding so tx's encrypt
	// stream lines up with rx's decrypt stream.
	rx.decryptNonce = nonce128{}
	tx.encryptNonce = nonce128{}
	return tx, rx
}

func encrypt(t *testing.T, s *State, pt []byte) []byte {
	t.Helper()
	ct, err := s.Encrypt(pt)
	require.NoError(t, err)
	return ct
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tx, rx := pair(t)

	for i := 0; i < 5; i++ {
		pt := []byte{byte(i), 1, 2, 3, 4, 5}
		ct := encrypt(t, tx, pt)
		got, err := rx.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, pt, got)
		require.EqualValues(t, i+1, rx.Good)
	}
}

func TestEncryptDecryptLongMessage(t *testing.T) {
	tx, rx := pair(t)

	pt := make([]byte, 97)
	for i := range pt {
		pt[i] = byte(i * 7)
	}
	ct := encrypt(t, tx, pt)
	got, err := rx.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestDecryptRejectsReplay(t *testing.T) {
	tx, rx := pair(t)

	ct := encrypt(t, tx, []byte("hello"))
	_, err := rx.Decrypt(ct)
	require.NoError(t, err)

	_, err = rx.Decrypt(ct)
	require.ErrorIs(t, err, ErrRepeat)
	require.EqualValues(t, 1, rx.Good)
}

func TestDecryptAcceptsOutOfOrderWithinWindow(t *testing.T) {
	tx, rx := pair(t)

	// The replay window keys off the nonce's second byte; roll the nonce
	// counter past 256 first so that byte is non-zero and can't collide
	// with the zero-initialized history array.
	for i := 0; i < 260; i++ {
		ct := encrypt(t, tx, []byte{byte(i)})
		_, err := rx.Decrypt(ct)
		require.NoError(t, err)
	}

	var packets [][]byte
	for i := 0; i < 3; i++ {
		packets = append(packets, encrypt(t, tx, []byte{byte(i)}))
	}

	// Deliver 0, then 2, then 1 (1 arrives late but inside the window).
	_, err := rx.Decrypt(packets[0])
	require.NoError(t, err)
	_, err = rx.Decrypt(packets[2])
	require.NoError(t, err)
	require.EqualValues(t, 1, rx.Lost) // packet 1 presumed lost when 2 arrived

	_, err = rx.Decrypt(packets[1])
	require.NoError(t, err)
	require.EqualValues(t, 1, rx.Late)
	require.EqualValues(t, 0, rx.Lost) // recovered

	// Replaying the late packet is now rejected.
	_, err = rx.Decrypt(packets[1])
	require.ErrorIs(t, err, ErrRepeat)
}

func TestLateWindowBoundaries(t *testing.T) {
	tx, rx := pair(t)

	// Roll past 256 so the replay window's second-byte check can't
	// collide with the zero-initialized history array.
	var edge []byte
	for i := 0; i < 260; i++ {
		ct := encrypt(t, tx, []byte{1})
		edge = ct // iteration 259 leaves the packet for nonce 260
		_, err := rx.Decrypt(ct)
		require.NoError(t, err)
	}

	// Nonces 261..290; deliver all but the three oldest so the decrypt
	// nonce lands on 290.
	var packets [][]byte
	for i := 0; i < 30; i++ {
		packets = append(packets, encrypt(t, tx, []byte{2}))
	}
	for _, ct := range packets[3:] {
		_, err := rx.Decrypt(ct)
		require.NoError(t, err)
	}

	goodBefore := rx.Good

	// Nonce 261 sits exactly 29 behind: accepted once as late.
	_, err := rx.Decrypt(packets[0])
	require.NoError(t, err)
	require.Equal(t, goodBefore+1, rx.Good)
	require.EqualValues(t, 1, rx.Late)

	// Replaying it is now rejected.
	_, err = rx.Decrypt(packets[0])
	require.ErrorIs(t, err, ErrRepeat)

	// Nonce 260 is 30 behind: past the window edge.
	_, err = rx.Decrypt(edge)
	require.ErrorIs(t, err, ErrLate)
	require.Equal(t, goodBefore+1, rx.Good)
	require.EqualValues(t, 1, rx.Late)
}

func TestDecryptRejectsTooLate(t *testing.T) {
	tx, rx := pair(t)

	first := encrypt(t, tx, []byte{0})
	for i := 0; i < 40; i++ {
		encrypt(t, tx, []byte{byte(i + 1)})
	}
	latest := encrypt(t, tx, []byte{41})

	_, err := rx.Decrypt(latest)
	require.NoError(t, err)

	_, err = rx.Decrypt(first)
	require.ErrorIs(t, err, ErrLate)
}

func TestDecryptRejectsBadMAC(t *testing.T) {
	tx, rx := pair(t)

	ct := encrypt(t, tx, []byte("hello world"))
	ct[len(ct)-1] ^= 0xff

	before := rx.decryptNonce
	_, err := rx.Decrypt(ct)
	require.ErrorIs(t, err, ErrMac)
	require.Equal(t, before, rx.decryptNonce, "decrypt nonce must be restored on MAC failure")
	require.EqualValues(t, 0, rx.Good)
}

func TestDecryptShortDatagram(t *testing.T) {
	rx, err := New()
	require.NoError(t, err)
	_, err = rx.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrEof)
}

func TestResetClearsCountersButKeepsKey(t *testing.T) {
	tx, rx := pair(t)
	ct := encrypt(t, tx, []byte("hi"))
	_, err := rx.Decrypt(ct)
	require.NoError(t, err)
	require.EqualValues(t, 1, rx.Good)

	key := rx.Key
	require.NoError(t, rx.Reset())
	require.Equal(t, key, rx.Key)
	require.EqualValues(t, 0, rx.Good)
	require.EqualValues(t, 0, rx.Late)
	require.EqualValues(t, 0, rx.Lost)
}

func TestSetDecryptNonceBumpsResync(t *testing.T) {
	rx, err := New()
	require.NoError(t, err)
	require.EqualValues(t, 0, rx.Resync)
	require.NoError(t, rx.SetDecryptNonce([16]byte{1, 2, 3}))

	stats, err := rx.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Resync)

	nonce, err := rx.DecryptNonce()
	require.NoError(t, err)
	require.Equal(t, [16]byte{1, 2, 3}, nonce)
}
