package client

import (
	"fmt"
	"math/rand"
	"net/url"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/chirp/protocol"
	"github.com/luma/chirp/storage"
)

// Roster loads the contact and group directory. Loading is a chain of
// three requests: the contact list, then online presence, then the
// group name list; ContactsReadyEvent fires once the chain completes.
// Group member detail, stranger identities, avatars and presence
// changes load on demand afterwards.
type Roster struct {
	auth       *Auth
	dispatcher *Dispatcher
	dir        storage.Directory
	events     *events
	avatars    *storage.AvatarCache
	rng        *rand.Rand
	log        *zap.Logger
}

func newRoster(
	auth *Auth,
	dispatcher *Dispatcher,
	dir storage.Directory,
	events *events,
	avatars *storage.AvatarCache,
	rng *rand.Rand,
	log *zap.Logger,
) *Roster {
	r := &Roster{
		auth:       auth,
		dispatcher: dispatcher,
		dir:        dir,
		events:     events,
		avatars:    avatars,
		rng:        rng,
		log:        log,
	}

	dispatcher.Handle(OpContacts, r.onContacts)
	dispatcher.Handle(OpOnlineBuddies, r.onOnlineBuddies)
	dispatcher.Handle(OpGroups, r.onGroups)
	dispatcher.Handle(OpGroupInfo, r.onGroupInfo)
	dispatcher.Handle(OpGroupSig, r.onGroupSig)
	dispatcher.Handle(OpStrangerInfo, r.onStrangerInfo)
	dispatcher.Handle(OpAvatar, r.onAvatar)
	dispatcher.Handle(OpChangeStatus, r.onChangeStatus)

	return r
}

// LoadContacts starts the directory-loading chain. The request body
// carries a hash derived from the user id and session cookie; the
// server rejects the call without it.
func (r *Roster) LoadContacts() error {
	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to load contacts in state %s: %w",
			session.State, ErrNotEstablished)
	}

	body := "{}"
	body, _ = sjson.Set(body, "h", "hello")
	body, _ = sjson.Set(body, "hash",
		protocol.FriendListHash(session.UserID, session.SessionCookie))
	body, _ = sjson.Set(body, "vfwebqq", session.VerifyToken)

	r.dispatcher.Post(OpContacts, contactsURL,
		[]byte(protocol.PercentEncode("r="+body)))
	return nil
}

// The contacts payload splits one peer across three parallel arrays:
// info (uin, nick), marknames (uin, markname) and categories. They
// merge here before the directory sees anything.
func (r *Roster) onContacts(args []interface{}, data []byte) {
	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Contact list request failed", zap.Int("retcode", retcode))
		return
	}

	marknames := map[string]string{}
	for _, entry := range result.Get("marknames").Array() {
		marknames[entry.Get("uin").String()] = entry.Get("markname").String()
	}

	count := 0
	for _, entry := range result.Get("info").Array() {
		userID := entry.Get("uin").String()
		r.dir.UpsertPeer(storage.Peer{
			Key:      storage.PeerKey{GroupID: storage.NoGroup, UserID: userID},
			Nickname: entry.Get("nick").String(),
			Markname: marknames[userID],
		})
		count++
	}

	r.log.Info("Contact list loaded", zap.Int("contacts", count))

	r.loadOnlineBuddies()
}

func (r *Roster) loadOnlineBuddies() {
	session := r.auth.Snapshot()

	query := url.Values{}
	query.Set("clientid", session.ClientID)
	query.Set("psessionid", session.SessionID)
	query.Set("t", timestamp())

	r.dispatcher.Get(OpOnlineBuddies, onlineBuddiesURL+"?"+query.Encode())
}

func (r *Roster) onOnlineBuddies(args []interface{}, data []byte) {
	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Online-buddies request failed", zap.Int("retcode", retcode))
		return
	}

	for _, entry := range result.Array() {
		key := storage.PeerKey{
			GroupID: storage.NoGroup,
			UserID:  entry.Get("uin").String(),
		}
		r.dir.SetStatus(key,
			storage.ParseStatus(entry.Get("status").String()),
			int(entry.Get("client_type").Int()))
	}

	r.loadGroups()
}

func (r *Roster) loadGroups() {
	session := r.auth.Snapshot()

	body := "{}"
	body, _ = sjson.Set(body, "vfwebqq", session.VerifyToken)

	r.dispatcher.Post(OpGroups, groupsURL,
		[]byte(protocol.PercentEncode("r="+body)))
}

func (r *Roster) onGroups(args []interface{}, data []byte) {
	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Group list request failed", zap.Int("retcode", retcode))
		return
	}

	count := 0
	for _, entry := range result.Get("gnamelist").Array() {
		r.dir.UpsertGroup(storage.Group{
			ID:   entry.Get("gid").Uint(),
			Code: entry.Get("code").Uint(),
			Name: entry.Get("name").String(),
		})
		count++
	}

	r.log.Info("Group list loaded", zap.Int("groups", count))

	r.events.emit(ContactsReadyEvent{})
}

// LoadGroupInfo fetches one group's member roster and presence.
func (r *Roster) LoadGroupInfo(groupID uint64) error {
	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to load group info in state %s: %w",
			session.State, ErrNotEstablished)
	}

	group, known := r.dir.Group(groupID)
	if !known {
		return fmt.Errorf("Failed to load info for group %d: %w",
			groupID, ErrUnknownGroup)
	}

	query := url.Values{}
	query.Set("gcode", fmt.Sprintf("%d", group.Code))
	query.Set("vfwebqq", session.VerifyToken)
	query.Set("t", timestamp())

	r.dispatcher.Get(OpGroupInfo, groupInfoURL+"?"+query.Encode(), groupID)
	return nil
}

func (r *Roster) onGroupInfo(args []interface{}, data []byte) {
	groupID := args[0].(uint64)

	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Group info request failed",
			zap.Uint64("group", groupID), zap.Int("retcode", retcode))
		return
	}

	for _, entry := range result.Get("minfo").Array() {
		r.dir.UpsertPeer(storage.Peer{
			Key: storage.PeerKey{
				GroupID: groupID,
				UserID:  entry.Get("uin").String(),
			},
			Nickname: entry.Get("nick").String(),
		})
	}

	for _, entry := range result.Get("stats").Array() {
		key := storage.PeerKey{
			GroupID: groupID,
			UserID:  entry.Get("uin").String(),
		}
		r.dir.SetStatus(key,
			statusFromCode(int(entry.Get("stat").Int())),
			int(entry.Get("client_type").Int()))
	}

	r.events.emit(GroupReadyEvent{GroupID: groupID})
}

// FetchGroupSignature requests the per-peer token that authorizes
// session messages to a group member who is not a direct contact.
func (r *Roster) FetchGroupSignature(groupID uint64, userID string) error {
	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to fetch signature in state %s: %w",
			session.State, ErrNotEstablished)
	}

	query := url.Values{}
	query.Set("id", fmt.Sprintf("%d", groupID))
	query.Set("to_uin", userID)
	query.Set("service_type", "0")
	query.Set("clientid", session.ClientID)
	query.Set("psessionid", session.SessionID)
	query.Set("t", timestamp())

	r.dispatcher.Get(OpGroupSig, groupSigURL+"?"+query.Encode(), groupID, userID)
	return nil
}

func (r *Roster) onGroupSig(args []interface{}, data []byte) {
	key := storage.PeerKey{
		GroupID: args[0].(uint64),
		UserID:  args[1].(string),
	}

	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Signature request failed", zap.Int("retcode", retcode))
		return
	}

	sig := result.Get("value").String()
	if sig == "" {
		r.log.Warn("Signature response carried no value")
		return
	}

	r.dir.CacheSignature(key, sig)
}

// FetchStrangerInfo resolves the identity of a group member seen only
// through session messages. Orphaned messages buffered for the sender
// get adopted once the identity lands.
func (r *Roster) FetchStrangerInfo(groupID uint64, userID string) error {
	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to fetch stranger info in state %s: %w",
			session.State, ErrNotEstablished)
	}

	query := url.Values{}
	query.Set("tuin", userID)
	query.Set("verifysession", "")
	query.Set("gid", fmt.Sprintf("%d", groupID))
	query.Set("code", "")
	query.Set("vfwebqq", session.VerifyToken)
	query.Set("t", timestamp())

	r.dispatcher.Get(OpStrangerInfo, strangerInfoURL+"?"+query.Encode(), groupID, userID)
	return nil
}

func (r *Roster) onStrangerInfo(args []interface{}, data []byte) {
	key := storage.PeerKey{
		GroupID: args[0].(uint64),
		UserID:  args[1].(string),
	}

	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Stranger info request failed", zap.Int("retcode", retcode))
		return
	}

	r.dir.UpsertPeer(storage.Peer{
		Key:      key,
		Nickname: result.Get("nick").String(),
	})

	if adopted := r.dir.AdoptOrphans(key); adopted > 0 {
		r.log.Debug("Adopted buffered messages",
			zap.String("user", key.UserID), zap.Int("messages", adopted))
	}
}

// FetchAvatar downloads a peer's avatar image into the cache. The
// image host is sharded; any of the ten shards serves any avatar.
func (r *Roster) FetchAvatar(key storage.PeerKey) error {
	if r.avatars == nil {
		return nil
	}

	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to fetch avatar in state %s: %w",
			session.State, ErrNotEstablished)
	}

	query := url.Values{}
	query.Set("cache", "0")
	query.Set("type", "1")
	query.Set("fid", "0")
	query.Set("uin", key.UserID)
	query.Set("vfwebqq", session.VerifyToken)

	host := fmt.Sprintf(avatarURLPattern, 1+r.rng.Intn(10))
	r.dispatcher.Get(OpAvatar, host+"?"+query.Encode(), key)
	return nil
}

func (r *Roster) onAvatar(args []interface{}, data []byte) {
	key := args[0].(storage.PeerKey)

	path, err := r.avatars.Put("avatar-"+key.UserID, data)
	if err != nil {
		r.log.Warn("Failed to cache avatar",
			zap.String("user", key.UserID), zap.Error(err))
		return
	}

	r.dir.SetAvatarPath(key, path)
}

// ChangeStatus asks the server to change our own presence.
func (r *Roster) ChangeStatus(status storage.Status) error {
	session := r.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to change status in state %s: %w",
			session.State, ErrNotEstablished)
	}

	query := url.Values{}
	query.Set("newstatus", status.String())
	query.Set("clientid", session.ClientID)
	query.Set("psessionid", session.SessionID)
	query.Set("t", timestamp())

	r.dispatcher.Get(OpChangeStatus, changeStatusURL+"?"+query.Encode(), status)
	return nil
}

func (r *Roster) onChangeStatus(args []interface{}, data []byte) {
	status := args[0].(storage.Status)

	retcode, _ := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		r.log.Warn("Status change rejected", zap.Int("retcode", retcode))
		return
	}

	r.auth.setOwnStatus(status)
	key := storage.PeerKey{GroupID: storage.NoGroup, UserID: r.auth.Snapshot().UserID}
	r.dir.SetStatus(key, status, 0)
}

// statusFromCode maps the numeric presence codes group stats use onto
// the shared vocabulary.
func statusFromCode(code int) storage.Status {
	switch code {
	case 10:
		return storage.StatusOnline
	case 30:
		return storage.StatusAway
	case 50:
		return storage.StatusBusy
	default:
		return storage.StatusOffline
	}
}
