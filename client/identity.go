package client

import (
	"crypto/rand"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsrealkaran/eth-date/data"
)

// Fixed identity used in development mode
const devUserID = "1d7s7pl"

const identityFile = "user-id"

// ResolveIdentity picks the session's user identity: the development
// sentinel, the verified profile UUID, or a generated token persisted
// locally so it survives restarts.
func ResolveIdentity(dev bool, profile *data.Profile) string {
	if dev {
		log.Printf("[identity] development mode, using fixed user id %s", devUserID)
		return devUserID
	}

	if profile != nil && profile.UUID != "" {
		return profile.UUID
	}

	path := filepath.Join(data.DataDir(), identityFile)
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}

	id := "user_" + randomToken(9)
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		log.Printf("[identity] persist %s: %v", path, err)
	}
	return id
}

func randomToken(n int) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = chars[b[i]%byte(len(chars))]
	}
	return string(b)
}
