package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// bossTokenSalt domain-separates the boss token digest from any other HMAC
// usage in the daemon (spec §4.1: "fixed HMAC-style digest, domain-separated
// salt").
const bossTokenSalt = "hiboss:boss-token:v1"

// HashBossToken returns the digest stored in config.boss_token_hash.
// Hashing (rather than storing the token plaintext, unlike Agent.Token) lets
// the authorizer compare without holding the secret at rest.
func HashBossToken(token string) string {
	mac := hmac.New(sha256.New, []byte(bossTokenSalt))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBossToken reports whether token hashes to hash.
func VerifyBossToken(token, hash string) bool {
	want, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(bossTokenSalt))
	mac.Write([]byte(token))
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}
