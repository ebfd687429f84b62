// Package id generates opaque identifiers used to correlate locally sent
// messages with their server echoes and later mutation frames.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	mathrand "math/rand"
	"strings"
	"time"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 identifier backed by 16
// random bytes shaped as a UUIDv4.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return encode(raw), nil
}

// NewIDFallback returns an identifier of the same shape as NewID without
// touching the crypto source. It mixes the current time with math/rand and is
// only used when NewID fails; the result is still unique with overwhelming
// probability within a session.
func NewIDFallback() string {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(raw[8:], mathrand.Uint64())
	return encode(raw)
}

func encode(raw [16]byte) string {
	// Stamp UUIDv4 version and variant bits so the decoded bytes read as a
	// well-formed UUID.
	raw[6] = (raw[6] & 0x0F) | 0x40
	raw[8] = (raw[8] & 0x3F) | 0x80
	return strings.ToLower(encoding.EncodeToString(raw[:]))
}
