// Package auth implements the viewer's two-tier password scheme: a global
// backend password for operators and per-session viewer passwords for
// read-only access to a single session. Clients always transmit SHA-256 hex
// digests, never plaintext.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// PasswordReader resolves a session's stored viewer password. Missing
// sessions and sessions without a password yield "". session.Store
// satisfies it.
type PasswordReader interface {
	SessionViewerPassword(ctx context.Context, sessionID string) (string, error)
}

// Result is the outcome of a session-scoped password check. UsedGlobal marks
// the legacy fallback where the global password authenticated a session
// without one of its own.
type Result struct {
	Valid      bool `json:"valid"`
	UsedGlobal bool `json:"used_global"`
}

// HashPassword returns the lowercase SHA-256 hex digest clients are expected
// to send.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Validator checks password digests against the configured global password
// and stored per-session passwords.
type Validator struct {
	globalHash string
	passwords  PasswordReader
	log        *logger.Logger
}

// NewValidator hashes the configured backend password once and keeps the
// digest; the plaintext is not retained.
func NewValidator(backendPassword string, passwords PasswordReader, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.Default()
	}
	return &Validator{
		globalHash: HashPassword(backendPassword),
		passwords:  passwords,
		log:        log,
	}
}

// CheckGlobal reports whether the digest matches the global backend
// password.
func (v *Validator) CheckGlobal(passwordHash string) bool {
	return digestEqual(passwordHash, v.globalHash)
}

// CheckSession validates a digest for one session: first against the
// session's own viewer password, then against the global password as a
// fallback for sessions created before per-session passwords existed.
func (v *Validator) CheckSession(ctx context.Context, sessionID, passwordHash string) (Result, error) {
	stored, err := v.passwords.SessionViewerPassword(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	if stored != "" && digestEqual(passwordHash, HashPassword(stored)) {
		v.log.Info("authenticated with session password", zap.String("session_id", sessionID))
		return Result{Valid: true}, nil
	}

	if digestEqual(passwordHash, v.globalHash) {
		v.log.Info("authenticated with global password fallback", zap.String("session_id", sessionID))
		return Result{Valid: true, UsedGlobal: true}, nil
	}

	v.log.Warn("session password validation failed", zap.String("session_id", sessionID))
	return Result{}, nil
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
