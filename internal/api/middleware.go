package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// hmacReplayWindow bounds how far a signed request's timestamp may drift.
const hmacReplayWindow = 5 * time.Minute

// AuthMiddleware authenticates control-plane requests. Accepted schemes:
//
//	Authorization: Bearer <secret>          constant-time compare
//	Authorization: HMAC <unix-ts>:<hex>     HMAC-SHA256(secret, "<ts>:<METHOD>:<PATH>")
//
// When allowedIPs is non-empty, unlisted peers are rejected with 403 before
// any token inspection. Auth failures carry no detail.
func AuthMiddleware(secret string, allowedIPs []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowed[ip] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) > 0 {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !allowed[host] {
				WriteError(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
				return
			}
		}

		auth := r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			token := auth[len("Bearer "):]
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		case strings.HasPrefix(auth, "HMAC "):
			if validHMAC(secret, auth[len("HMAC "):], r) {
				next.ServeHTTP(w, r)
				return
			}
		}
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	})
}

// validHMAC checks a "<ts>:<hex-signature>" credential signed over
// "<ts>:<METHOD>:<PATH>" within the replay window.
func validHMAC(secret, credential string, r *http.Request) bool {
	tsStr, sigHex, ok := strings.Cut(credential, ":")
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift > hmacReplayWindow || drift < -hmacReplayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsStr + ":" + r.Method + ":" + r.URL.Path))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sigHex)) == 1
}

// RequestBodyLimitMiddleware enforces a max request body size for downstream handlers.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r != nil && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLogMiddleware tags each request with a correlation id and logs
// method, path, status, and duration. Bodies are never logged.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Printf("api: %s %s %s -> %d (%s)", reqID, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
