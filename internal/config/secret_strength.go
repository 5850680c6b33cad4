package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecret reports whether the engine secret is guessable. The secret
// both authenticates the backend and keys flag generation, so a weak value
// is refused at boot. An empty secret is rejected earlier by validation and
// is treated as not weak here.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
