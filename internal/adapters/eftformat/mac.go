package eftformat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// signer accumulates emitted lines and signs them with HMAC-SHA256 of the encryption key
type signer struct {
	mac hash.Hash
}

func newSigner(key []byte) *signer {
	return &signer{mac: hmac.New(sha256.New, key)}
}

func (s *signer) add(line string) {
	s.mac.Write([]byte(line))
	s.mac.Write([]byte{'\n'})
}

func (s *signer) sum() string {
	return strings.ToUpper(hex.EncodeToString(s.mac.Sum(nil)))
}

// Sign returns the uppercase hex HMAC-SHA256 of lines, each newline-terminated
func Sign(key []byte, lines []string) string {
	s := newSigner(key)
	for _, l := range lines {
		s.add(l)
	}
	return s.sum()
}
