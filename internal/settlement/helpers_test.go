package settlement

import "crypto/ed25519"

func ed25519Key(seed []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
}
