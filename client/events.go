package client

import (
	"go.uber.org/zap"

	"github.com/luma/chirp/storage"
)

// Event is a notification from the protocol engine. Receive them from
// Client.Events(); each concrete type below is one kind of
// notification.
type Event interface {
	event()
}

// ChallengeClearedEvent fires when the challenge decided no captcha is
// needed and login may proceed directly.
type ChallengeClearedEvent struct{}

// CaptchaEvent carries the captcha image the user must solve. Path is
// where the image was cached on disk, when a cache is configured.
type CaptchaEvent struct {
	Image  []byte
	Format string
	Path   string
}

// AuthFailedEvent fires when a login step failed for good. Code is the
// server's error code, Message the embedded error text when the server
// sent one.
type AuthFailedEvent struct {
	Code    int
	Message string
}

// SessionReadyEvent fires once the session is established and polling
// may begin.
type SessionReadyEvent struct {
	UserID string
	Status storage.Status
}

// ContactsReadyEvent fires when the contact and group directories have
// been loaded after login.
type ContactsReadyEvent struct{}

// GroupReadyEvent fires when one group's member detail has loaded.
type GroupReadyEvent struct {
	GroupID uint64
}

// BuddyOnlineEvent fires when a previously offline contact comes
// online. A BuddyStatusEvent always accompanies it.
type BuddyOnlineEvent struct {
	UserID string
}

type BuddyStatusEvent struct {
	Key    storage.PeerKey
	Status storage.Status
}

// MessageScope says which kind of conversation a message belongs to.
type MessageScope int

const (
	ScopeBuddy MessageScope = iota
	ScopeGroup
	ScopeSession
)

type MessageEvent struct {
	Scope   MessageScope
	Key     storage.PeerKey
	Message storage.Message
}

type TypingEvent struct {
	Key storage.PeerKey
}

// KickedEvent means the server terminated the session. The engine
// takes no automatic action; the host decides whether to stop.
type KickedEvent struct {
	Reason string
}

// SessionExpiredEvent means polling hit an expired session and the
// session must be re-established before polling can resume.
type SessionExpiredEvent struct{}

// PollDoneEvent fires after each poll cycle that ended benignly; the
// loop issues the next poll on seeing it.
type PollDoneEvent struct{}

func (ChallengeClearedEvent) event() {}
func (CaptchaEvent) event()          {}
func (AuthFailedEvent) event()       {}
func (SessionReadyEvent) event()     {}
func (ContactsReadyEvent) event()    {}
func (GroupReadyEvent) event()       {}
func (BuddyOnlineEvent) event()      {}
func (BuddyStatusEvent) event()      {}
func (MessageEvent) event()          {}
func (TypingEvent) event()           {}
func (KickedEvent) event()           {}
func (SessionExpiredEvent) event()   {}
func (PollDoneEvent) event()         {}

// events fans notifications out to the Run loop. Emits never block the
// dispatch goroutine; when the buffer is full the event is dropped
// with a warning.
type events struct {
	ch  chan Event
	log *zap.Logger
}

func newEvents(log *zap.Logger) *events {
	return &events{
		ch:  make(chan Event, 255),
		log: log,
	}
}

func (e *events) emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
		e.log.Warn("Event buffer full, dropping", zap.Any("event", ev))
	}
}
