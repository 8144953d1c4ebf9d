package scheduler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SeedSource produces the secret server seed and the public client seed of a
// new round.
type SeedSource func() (serverSeed, publicSeed string, err error)

// RandomSeeds draws both seeds from crypto/rand.
func RandomSeeds() (string, string, error) {
	server, err := randomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("server seed: %w", err)
	}
	public, err := randomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("public seed: %w", err)
	}
	return server, public, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
