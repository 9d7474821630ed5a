package payments

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns a 64-character hex token from 32 bytes of CSPRNG output.
// The token is the sole credential the gateway echoes back in its webhook,
// so it must be unguessable and never reused across jobs.
func NewToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
