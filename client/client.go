package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/luma/chirp/storage"
)

const DefaultAppID = "1003903"

var ErrNoTransport = errors.New("A transport is required")

// Options configures a Client. Transport and Directory are required;
// the rest have workable defaults.
type Options struct {
	Transport Transport
	Directory storage.Directory

	// Avatars is optional; without it captcha and avatar images are
	// delivered in events only, never written to disk
	Avatars *storage.AvatarCache

	// AppID identifies this client flavor to the login service
	AppID string

	// Rand is the single random source for client ids, message ids and
	// avatar host sharding. Defaults to a time-seeded source.
	Rand *rand.Rand

	Log *zap.Logger
}

// Client ties the components together: the auth state machine, the
// directory loader, the long-poll loop and outgoing messaging, all
// sharing one completion dispatcher and one event stream.
type Client struct {
	dispatcher *Dispatcher
	auth       *Auth
	roster     *Roster
	poller     *Poller
	messenger  *Messenger

	events *events
	public chan Event

	log *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Transport == nil || opts.Directory == nil {
		return nil, ErrNoTransport
	}
	if opts.AppID == "" {
		opts.AppID = DefaultAppID
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	events := newEvents(opts.Log.Named("events"))
	dispatcher := NewDispatcher(opts.Transport, opts.Log.Named("dispatch"))

	auth := newAuth(dispatcher, opts.Transport, opts.Directory, events,
		opts.Avatars, opts.AppID, opts.Rand, opts.Log.Named("auth"))
	roster := newRoster(auth, dispatcher, opts.Directory, events,
		opts.Avatars, opts.Rand, opts.Log.Named("roster"))
	poller := newPoller(auth, dispatcher, opts.Directory, events,
		opts.Log.Named("poll"))
	messenger := newMessenger(auth, dispatcher, opts.Directory,
		opts.Rand, opts.Log.Named("send"))

	// Orphaned session messages trigger a stranger lookup
	poller.fetchStranger = func(groupID uint64, userID string) {
		if err := roster.FetchStrangerInfo(groupID, userID); err != nil {
			opts.Log.Warn("Failed to request stranger info", zap.Error(err))
		}
	}

	// Responses landing after logout are discarded, except the login
	// machinery's own, which must flow in every state
	dispatcher.SetGate(func(op Operation) bool {
		return op.loginPhase() || auth.State() != StateIdle
	})

	return &Client{
		dispatcher: dispatcher,
		auth:       auth,
		roster:     roster,
		poller:     poller,
		messenger:  messenger,
		events:     events,
		public:     make(chan Event, 255),
		log:        opts.Log,
	}, nil
}

// Run drives the client until the context ends: it routes completions,
// reacts to lifecycle events (session ready starts the directory load,
// a loaded directory starts the poll loop, expiry re-establishes) and
// forwards every event to the public stream.
func (c *Client) Run(ctx context.Context) {
	go c.dispatcher.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Client loop exiting")
			return

		case ev := <-c.events.ch:
			c.react(ev)
			c.forward(ev)
		}
	}
}

func (c *Client) react(ev Event) {
	switch ev.(type) {
	case SessionReadyEvent:
		if err := c.roster.LoadContacts(); err != nil {
			c.log.Warn("Failed to start contact load", zap.Error(err))
		}

	case ContactsReadyEvent:
		// Polling waits for the directory chain; group messages have no
		// orphan buffer, so the group table must be loaded first
		if err := c.poller.Poll(); err != nil {
			c.log.Warn("Failed to start poll loop", zap.Error(err))
		}

	case PollDoneEvent:
		if c.auth.State() != StateEstablished {
			return
		}
		if err := c.poller.Poll(); err != nil {
			c.log.Warn("Failed to continue poll loop", zap.Error(err))
		}

	case SessionExpiredEvent:
		c.auth.Reestablish()

	case KickedEvent:
		// The server already closed the session; no logout round trip
		c.auth.abandon()
	}
}

func (c *Client) forward(ev Event) {
	select {
	case c.public <- ev:
	default:
		c.log.Warn("Dropping event, consumer is not keeping up")
	}
}

// Events is the stream hosts consume. Slow consumers lose events
// rather than stalling the protocol engine.
func (c *Client) Events() <-chan Event {
	return c.public
}

func (c *Client) State() AuthState { return c.auth.State() }
func (c *Client) Session() Session { return c.auth.Snapshot() }

func (c *Client) BeginChallenge(userID string) {
	c.auth.BeginChallenge(userID)
}

func (c *Client) SubmitLogin(userID, password, captchaCode string, status storage.Status) {
	c.auth.SubmitLogin(userID, password, captchaCode, status)
}

func (c *Client) Logout() { c.auth.Logout() }

func (c *Client) LoadGroupInfo(groupID uint64) error {
	return c.roster.LoadGroupInfo(groupID)
}

func (c *Client) FetchGroupSignature(groupID uint64, userID string) error {
	return c.roster.FetchGroupSignature(groupID, userID)
}

func (c *Client) FetchAvatar(key storage.PeerKey) error {
	return c.roster.FetchAvatar(key)
}

func (c *Client) ChangeStatus(status storage.Status) error {
	return c.roster.ChangeStatus(status)
}

func (c *Client) SendBuddy(userID, text string) error {
	return c.messenger.SendBuddy(userID, text)
}

func (c *Client) SendGroup(groupID uint64, text string) error {
	return c.messenger.SendGroup(groupID, text)
}

func (c *Client) SendSession(groupID uint64, userID, text string) error {
	return c.messenger.SendSession(groupID, userID, text)
}
