package storage

import "time"

// NoGroup is the sentinel group id for direct contacts and strangers
// outside any group context.
const NoGroup uint64 = 0

// KindOutgoing marks messages this client sent. Incoming kinds are the
// server's non-negative msg_type values.
const KindOutgoing = -1

// Status is a peer's presence.
type Status int

const (
	StatusOffline Status = iota
	StatusOnline
	StatusAway
	StatusBusy
	StatusInvisible
)

// ParseStatus maps the server's status vocabulary onto Status. Unknown
// strings read as offline.
func ParseStatus(s string) Status {
	switch s {
	case "online", "callme":
		return StatusOnline
	case "away":
		return StatusAway
	case "busy", "silent":
		return StatusBusy
	case "hidden", "invisible":
		return StatusInvisible
	default:
		return StatusOffline
	}
}

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusAway:
		return "away"
	case StatusBusy:
		return "busy"
	case StatusInvisible:
		return "hidden"
	default:
		return "offline"
	}
}

// PeerKey identifies a peer uniquely across direct-contact and
// group-membership contexts. The same user id can appear under several
// groups with independent signature and membership state.
type PeerKey struct {
	GroupID uint64
	UserID  string
}

// Message is one chat message, decoded. The directory owns stored
// messages by value; callers get copies.
type Message struct {
	SourceID            string
	DestinationID       string
	SequenceID          int64
	SecondarySequenceID int64
	Kind                int
	Time                time.Time
	Content             string

	// ReplyAddress is the reply_ip the server reports on incoming
	// messages. Opaque to us.
	ReplyAddress uint32
}

type Peer struct {
	Key        PeerKey
	Nickname   string
	Markname   string
	Status     Status
	ClientType int

	// Signature is the cached per-(group, peer) authorization token
	// for ad-hoc session messages. Empty until fetched.
	Signature string

	// Typing is the transient "peer is typing" flag
	Typing bool

	AvatarPath string
	Messages   []Message
}

type Group struct {
	ID       uint64
	Code     uint64
	Name     string
	Messages []Message
}

// Directory is the contact/group state the protocol engine reads and
// writes. Implementations must be safe for use from the completion
// dispatch goroutine plus whatever goroutines the host reads snapshots
// from.
type Directory interface {
	// ResolvePeer looks a peer up by key. Direct-contact records take
	// precedence: a friend is found under NoGroup even when the key
	// carries a group context.
	ResolvePeer(key PeerKey) (Peer, bool)

	// UpsertPeer inserts or updates the profile fields of a peer.
	// Existing messages and a cached signature survive the update.
	UpsertPeer(peer Peer)

	SetStatus(key PeerKey, status Status, clientType int)
	SetTyping(key PeerKey, typing bool)
	CacheSignature(key PeerKey, value string)
	SetAvatarPath(key PeerKey, path string)

	// AttachMessage appends a message to the resolved peer's history.
	// Returns false when no such peer exists.
	AttachMessage(key PeerKey, msg Message) bool

	// BufferOrphanMessage holds a message from a peer the directory
	// does not know yet. AdoptOrphans moves the buffered messages onto
	// the peer once it exists and reports how many moved.
	BufferOrphanMessage(msg Message)
	AdoptOrphans(key PeerKey) int

	UpsertGroup(group Group)
	Group(id uint64) (Group, bool)
	GroupByCode(code uint64) (Group, bool)
	AttachGroupMessage(id uint64, msg Message) bool

	Peers() []Peer
	Groups() []Group

	Close() error
}
