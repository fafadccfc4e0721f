package storage

import (
	"sync"
)

// InmemoryDirectory keeps all contact/group state in process memory.
// Records are owned by value; callers only ever hold copies and keys.
type InmemoryDirectory struct {
	mu      sync.Mutex
	peers   map[PeerKey]*Peer
	groups  map[uint64]*Group
	orphans map[string][]Message

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryDirectory() *InmemoryDirectory {
	return &InmemoryDirectory{
		peers:   make(map[PeerKey]*Peer),
		groups:  make(map[uint64]*Group),
		orphans: make(map[string][]Message),
		stop:    make(chan struct{}),
	}
}

func (d *InmemoryDirectory) Close() error {
	if d.isRunning() {
		close(d.stop)
	}
	return nil
}

func (d *InmemoryDirectory) ResolvePeer(key PeerKey) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer := d.lookup(key); peer != nil {
		return *peer, true
	}
	return Peer{}, false
}

func (d *InmemoryDirectory) UpsertPeer(peer Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.peers[peer.Key]
	if !ok {
		stored := peer
		d.peers[peer.Key] = &stored
		return
	}

	existing.Nickname = peer.Nickname
	existing.Markname = peer.Markname
	// Presence changes flow through SetStatus; a profile upsert with
	// zero-valued presence must not knock a known peer offline
	if peer.Status != StatusOffline {
		existing.Status = peer.Status
	}
	if peer.ClientType != 0 {
		existing.ClientType = peer.ClientType
	}
	if peer.AvatarPath != "" {
		existing.AvatarPath = peer.AvatarPath
	}
	if peer.Signature != "" {
		existing.Signature = peer.Signature
	}
}

func (d *InmemoryDirectory) SetStatus(key PeerKey, status Status, clientType int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer := d.lookup(key); peer != nil {
		peer.Status = status
		peer.ClientType = clientType
	}
}

func (d *InmemoryDirectory) SetTyping(key PeerKey, typing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer := d.lookup(key); peer != nil {
		peer.Typing = typing
	}
}

func (d *InmemoryDirectory) CacheSignature(key PeerKey, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer := d.lookup(key); peer != nil {
		peer.Signature = value
	}
}

func (d *InmemoryDirectory) SetAvatarPath(key PeerKey, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer := d.lookup(key); peer != nil {
		peer.AvatarPath = path
	}
}

func (d *InmemoryDirectory) AttachMessage(key PeerKey, msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer := d.lookup(key)
	if peer == nil {
		return false
	}

	peer.Messages = append(peer.Messages, msg)
	return true
}

func (d *InmemoryDirectory) BufferOrphanMessage(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.orphans[msg.SourceID] = append(d.orphans[msg.SourceID], msg)
}

func (d *InmemoryDirectory) AdoptOrphans(key PeerKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer := d.lookup(key)
	if peer == nil {
		return 0
	}

	buffered := d.orphans[key.UserID]
	if len(buffered) == 0 {
		return 0
	}

	peer.Messages = append(peer.Messages, buffered...)
	delete(d.orphans, key.UserID)
	return len(buffered)
}

func (d *InmemoryDirectory) UpsertGroup(group Group) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.groups[group.ID]
	if !ok {
		stored := group
		d.groups[group.ID] = &stored
		return
	}

	existing.Code = group.Code
	existing.Name = group.Name
}

func (d *InmemoryDirectory) Group(id uint64) (Group, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if group, ok := d.groups[id]; ok {
		return *group, true
	}
	return Group{}, false
}

func (d *InmemoryDirectory) GroupByCode(code uint64) (Group, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, group := range d.groups {
		if group.Code == code {
			return *group, true
		}
	}
	return Group{}, false
}

func (d *InmemoryDirectory) AttachGroupMessage(id uint64, msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[id]
	if !ok {
		return false
	}

	group.Messages = append(group.Messages, msg)
	return true
}

func (d *InmemoryDirectory) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make([]Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		peers = append(peers, *peer)
	}
	return peers
}

func (d *InmemoryDirectory) Groups() []Group {
	d.mu.Lock()
	defer d.mu.Unlock()

	groups := make([]Group, 0, len(d.groups))
	for _, group := range d.groups {
		groups = append(groups, *group)
	}
	return groups
}

// lookup is the shared resolution rule: direct contacts win, then the
// exact group-scoped record. Callers must hold d.mu.
func (d *InmemoryDirectory) lookup(key PeerKey) *Peer {
	if peer, ok := d.peers[PeerKey{NoGroup, key.UserID}]; ok {
		return peer
	}
	if key.GroupID != NoGroup {
		if peer, ok := d.peers[key]; ok {
			return peer
		}
	}
	return nil
}

// isRunning returns true if Close has not been called
func (d *InmemoryDirectory) isRunning() bool {
	select {
	case <-d.stop:
		return false

	default:
		return true
	}
}

var _ Directory = (*InmemoryDirectory)(nil)
