// Package flagcrypt implements deterministic, stateless flag generation and
// validation. A flag is FLAG{base64(HMAC_SHA256(secret, matchId|serviceId|tick))};
// nothing about issued flags is ever stored.
package flagcrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

const (
	prefix = "FLAG{"
	suffix = "}"
)

// Manager derives and validates flags with a process-wide secret.
type Manager struct {
	secret []byte
}

// ErrShortSecret is returned for secrets below the minimum length.
var ErrShortSecret = errors.New("flag secret too short")

// NewManager validates the secret and returns a Manager.
func NewManager(secret string, minBytes int) (*Manager, error) {
	if len(secret) < minBytes {
		return nil, ErrShortSecret
	}
	return &Manager{secret: []byte(secret)}, nil
}

// Generate returns the flag bound to (matchID, serviceID, tick).
func (f *Manager) Generate(matchID, serviceID string, tick int) string {
	return prefix + f.inner(matchID, serviceID, tick) + suffix
}

func (f *Manager) inner(matchID, serviceID string, tick int) string {
	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(matchID + "|" + serviceID + "|" + strconv.Itoa(tick)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validation holds the identity a submitted flag resolved to.
type Validation struct {
	ServiceID string
	Tick      int
}

// Validate checks a submitted flag against every candidate service id and
// the tick window {currentTick, currentTick-1}, skipping negative ticks.
// Comparison is constant-time per candidate. The first match wins; no match
// returns ok=false. The submitted value is never logged by this package.
func (f *Manager) Validate(matchID, submitted string, currentTick int, serviceIDs []string) (Validation, bool) {
	body, ok := parse(submitted)
	if !ok {
		return Validation{}, false
	}

	for _, serviceID := range serviceIDs {
		for _, tick := range []int{currentTick, currentTick - 1} {
			if tick < 0 {
				continue
			}
			expected := f.inner(matchID, serviceID, tick)
			if subtle.ConstantTimeCompare([]byte(expected), []byte(body)) == 1 {
				return Validation{ServiceID: serviceID, Tick: tick}, true
			}
		}
	}
	return Validation{}, false
}

// parse extracts the inner base64 body, rejecting malformed shapes before
// any HMAC work.
func parse(submitted string) (string, bool) {
	if !strings.HasPrefix(submitted, prefix) || !strings.HasSuffix(submitted, suffix) {
		return "", false
	}
	body := submitted[len(prefix) : len(submitted)-len(suffix)]
	if body == "" {
		return "", false
	}
	if _, err := base64.StdEncoding.DecodeString(body); err != nil {
		return "", false
	}
	return body, true
}
