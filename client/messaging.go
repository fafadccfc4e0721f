package client

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/chirp/protocol"
	"github.com/luma/chirp/storage"
)

var (
	ErrNoGroupSignature = errors.New("No cached signature for this session peer")
	ErrUnknownGroup     = errors.New("Group is not in the directory")
)

// Messenger sends the three flavors of outgoing message. Each send
// attaches an optimistic local echo to the conversation before the
// request goes out; a server rejection is logged but the echo stays.
type Messenger struct {
	auth       *Auth
	dispatcher *Dispatcher
	dir        storage.Directory
	rng        *rand.Rand
	log        *zap.Logger
}

func newMessenger(
	auth *Auth,
	dispatcher *Dispatcher,
	dir storage.Directory,
	rng *rand.Rand,
	log *zap.Logger,
) *Messenger {
	m := &Messenger{
		auth:       auth,
		dispatcher: dispatcher,
		dir:        dir,
		rng:        rng,
		log:        log,
	}

	dispatcher.Handle(OpSendBuddy, m.onSent)
	dispatcher.Handle(OpSendGroup, m.onSent)
	dispatcher.Handle(OpSendSession, m.onSent)

	return m
}

// SendBuddy sends a message to a direct contact.
func (m *Messenger) SendBuddy(userID, text string) error {
	session, err := m.established()
	if err != nil {
		return err
	}

	content, err := protocol.EncodeContent(text)
	if err != nil {
		return err
	}

	body := "{}"
	body, _ = sjson.Set(body, "to", userID)
	body, _ = sjson.Set(body, "face", 0)
	body, _ = sjson.Set(body, "content", content)
	body, _ = sjson.Set(body, "msg_id", m.rng.Intn(10000000))
	body, _ = sjson.Set(body, "clientid", session.ClientID)
	body, _ = sjson.Set(body, "psessionid", session.SessionID)

	key := storage.PeerKey{GroupID: storage.NoGroup, UserID: userID}
	m.echo(key, session.UserID, userID, text)

	m.post(OpSendBuddy, sendBuddyURL, body, session)
	return nil
}

// SendGroup sends a message to a group conversation.
func (m *Messenger) SendGroup(groupID uint64, text string) error {
	session, err := m.established()
	if err != nil {
		return err
	}

	group, known := m.dir.Group(groupID)
	if !known {
		return fmt.Errorf("Failed to send to group %d: %w", groupID, ErrUnknownGroup)
	}

	content, err := protocol.EncodeContent(text)
	if err != nil {
		return err
	}

	body := "{}"
	body, _ = sjson.Set(body, "group_uin", group.ID)
	body, _ = sjson.Set(body, "content", content)
	body, _ = sjson.Set(body, "msg_id", m.rng.Intn(10000000))
	body, _ = sjson.Set(body, "clientid", session.ClientID)
	body, _ = sjson.Set(body, "psessionid", session.SessionID)

	m.dir.AttachGroupMessage(group.ID, outgoing(session.UserID, "", text))

	m.post(OpSendGroup, sendGroupURL, body, session)
	return nil
}

// SendSession sends an ad-hoc message to a group member who is not a
// direct contact. The per-peer signature must already be cached; the
// call fails fast before any echo or network activity when it is not.
func (m *Messenger) SendSession(groupID uint64, userID, text string) error {
	session, err := m.established()
	if err != nil {
		return err
	}

	key := storage.PeerKey{GroupID: groupID, UserID: userID}
	peer, known := m.dir.ResolvePeer(key)
	if !known || peer.Signature == "" {
		return fmt.Errorf("Failed to send to %s in group %d: %w",
			userID, groupID, ErrNoGroupSignature)
	}

	content, err := protocol.EncodeContent(text)
	if err != nil {
		return err
	}

	body := "{}"
	body, _ = sjson.Set(body, "to", userID)
	body, _ = sjson.Set(body, "group_sig", peer.Signature)
	body, _ = sjson.Set(body, "face", 0)
	body, _ = sjson.Set(body, "content", content)
	body, _ = sjson.Set(body, "msg_id", m.rng.Intn(10000000))
	body, _ = sjson.Set(body, "clientid", session.ClientID)
	body, _ = sjson.Set(body, "psessionid", session.SessionID)

	m.echo(key, session.UserID, userID, text)

	m.post(OpSendSession, sendSessionURL, body, session)
	return nil
}

func (m *Messenger) established() (Session, error) {
	session := m.auth.Snapshot()
	if session.State != StateEstablished {
		return Session{}, fmt.Errorf("Failed to send in state %s: %w",
			session.State, ErrNotEstablished)
	}
	return session, nil
}

func (m *Messenger) post(op Operation, url, body string, session Session) {
	form := fmt.Sprintf("r=%s&clientid=%s&psessionid=%s",
		body, session.ClientID, session.SessionID)
	m.dispatcher.Post(op, url, []byte(protocol.PercentEncode(form)))
}

func (m *Messenger) echo(key storage.PeerKey, from, to, text string) {
	m.dir.AttachMessage(key, outgoing(from, to, text))
}

func outgoing(from, to, text string) storage.Message {
	return storage.Message{
		SourceID:      from,
		DestinationID: to,
		Kind:          storage.KindOutgoing,
		Time:          time.Now(),
		Content:       text,
	}
}

func (m *Messenger) onSent(args []interface{}, data []byte) {
	retcode, _ := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		// The optimistic echo is already attached; it stays
		m.log.Warn("Server rejected outgoing message", zap.Int("retcode", retcode))
		return
	}
	m.log.Debug("Message delivered")
}
