package client

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/luma/chirp/storage"
)

// AuthState is where the login state machine currently stands.
type AuthState int

const (
	StateIdle AuthState = iota
	StateChallengeSent
	StateCaptchaRequired
	StateChallengeCleared
	StateLoginSubmitted
	StateSessionEstablishing
	StateEstablished
	StateFailed
)

func (s AuthState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeSent:
		return "challenge-sent"
	case StateCaptchaRequired:
		return "captcha-required"
	case StateChallengeCleared:
		return "challenge-cleared"
	case StateLoginSubmitted:
		return "login-submitted"
	case StateSessionEstablishing:
		return "session-establishing"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the mutable per-login record. Auth owns the only writable
// copy; everyone else sees value snapshots. SessionID and VerifyToken
// stay empty until the state reaches Established and are cleared for
// good on logout.
type Session struct {
	// ClientID is generated once per process
	ClientID string

	UserID string

	// UserIDHex is the hex-encoded session hint the challenge returns
	UserIDHex string

	// Ticket is the captcha/verify token from the challenge
	Ticket string

	// SessionCookie is the ptwebqq cookie value captured when the
	// session is established; the contact list hash is keyed on it
	SessionCookie string

	// SessionID is the psessionid the poll and send calls carry
	SessionID string

	// VerifyToken is the vfwebqq token the api endpoints carry
	VerifyToken string

	SessionIndex int
	SessionPort  int

	Status storage.Status
	State  AuthState
}

// newClientID mirrors the id the service's own web client generates:
// a 0-99 random prefix followed by the current milliseconds modulo a
// million.
func newClientID(rng *rand.Rand) string {
	ms := time.Now().UnixNano() / int64(time.Millisecond)
	return strconv.Itoa(rng.Intn(100)) + strconv.FormatInt(ms%1000000, 10)
}

// timestamp is the cache-busting `t` query parameter
func timestamp() string {
	return strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
}
