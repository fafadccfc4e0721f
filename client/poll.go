package client

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/chirp/protocol"
	"github.com/luma/chirp/storage"
)

// Poller runs the long-poll cycle and turns the server's event
// envelopes into directory updates and Events. One cycle is: issue the
// poll request, park until the server answers (typically on a timer
// when nothing happened), process every event in the batch, then emit
// PollDoneEvent so the loop re-arms.
type Poller struct {
	auth       *Auth
	dispatcher *Dispatcher
	dir        storage.Directory
	events     *events

	// handlers routes server events by their poll_type discriminator
	handlers map[string]func(value gjson.Result) error

	// fetchStranger requests identity info for an unknown session-message
	// sender; wired to the roster component
	fetchStranger func(groupID uint64, userID string)

	log *zap.Logger
}

func newPoller(
	auth *Auth,
	dispatcher *Dispatcher,
	dir storage.Directory,
	events *events,
	log *zap.Logger,
) *Poller {
	p := &Poller{
		auth:       auth,
		dispatcher: dispatcher,
		dir:        dir,
		events:     events,
		log:        log,
	}

	p.handlers = map[string]func(gjson.Result) error{
		"buddies_status_change": p.onStatusChange,
		"message":               p.onBuddyMessage,
		"group_message":         p.onGroupMessage,
		"sess_message":          p.onSessionMessage,
		"kick_message":          p.onKick,
		"input_notify":          p.onInputNotify,
	}

	dispatcher.Handle(OpPoll, p.onPoll)

	return p
}

// Poll issues one long-poll request. The server holds the request open
// until events arrive or its own timeout fires with retcode 102.
func (p *Poller) Poll() error {
	session := p.auth.Snapshot()
	if session.State != StateEstablished {
		return fmt.Errorf("Failed to poll in state %s: %w", session.State, ErrNotEstablished)
	}

	body := "{}"
	body, _ = sjson.Set(body, "clientid", session.ClientID)
	body, _ = sjson.Set(body, "psessionid", session.SessionID)
	body, _ = sjson.Set(body, "key", 0)
	body, _ = sjson.SetRaw(body, "ids", "[]")

	form := fmt.Sprintf("r=%s&clientid=%s&psessionid=%s",
		body, session.ClientID, session.SessionID)

	p.dispatcher.Post(OpPoll, pollURL, []byte(protocol.PercentEncode(form)))
	return nil
}

func (p *Poller) onPoll(args []interface{}, data []byte) {
	retcode, result := protocol.ParseEnvelope(data)

	switch retcode {
	case protocol.NoError:
		if err := p.processBatch(result); err != nil {
			p.log.Warn("Poll batch had failures", zap.Error(err))
		}

	case protocol.PollNoEvents:
		// Server-side timeout with nothing to report
		p.log.Debug("Poll cycle empty")

	case protocol.PollSessionExpired:
		p.log.Warn("Poll session expired")
		p.events.emit(SessionExpiredEvent{})
		// No PollDoneEvent: polling stays suspended until the session
		// is established again
		return

	default:
		p.log.Warn("Poll returned unexpected retcode", zap.Int("retcode", retcode))
	}

	p.events.emit(PollDoneEvent{})
}

// processBatch walks every event in the poll result. A handler failing
// on one event never blocks the rest of the batch; failures aggregate.
func (p *Poller) processBatch(result gjson.Result) error {
	var errs error

	for _, entry := range result.Array() {
		kind := entry.Get("poll_type").String()
		value := entry.Get("value")

		handler, known := p.handlers[kind]
		if !known {
			p.log.Warn("Skipping unknown poll event", zap.String("poll_type", kind))
			continue
		}

		if err := handler(value); err != nil {
			errs = multierr.Append(errs,
				fmt.Errorf("Failed to process '%s' event: %w", kind, err))
		}
	}

	return errs
}

func (p *Poller) onStatusChange(value gjson.Result) error {
	userID := value.Get("uin").String()
	status := storage.ParseStatus(value.Get("status").String())
	clientType := int(value.Get("client_type").Int())

	key := storage.PeerKey{GroupID: storage.NoGroup, UserID: userID}

	peer, known := p.dir.ResolvePeer(key)
	if known && peer.Status == status && peer.ClientType == clientType {
		return nil
	}

	p.dir.SetStatus(key, status, clientType)

	if (!known || peer.Status == storage.StatusOffline) && status != storage.StatusOffline {
		p.events.emit(BuddyOnlineEvent{UserID: userID})
	}
	p.events.emit(BuddyStatusEvent{Key: key, Status: status})

	return nil
}

func (p *Poller) onBuddyMessage(value gjson.Result) error {
	msg := parseMessage(value.Get("from_uin").String(), value, p.log)
	key := storage.PeerKey{GroupID: storage.NoGroup, UserID: msg.SourceID}

	p.dir.AttachMessage(key, msg)
	// An incoming message supersedes any pending typing notification
	p.dir.SetTyping(key, false)

	p.events.emit(MessageEvent{Scope: ScopeBuddy, Key: key, Message: msg})
	return nil
}

// Group messages carry the group's own uin in from_uin; the directory
// key is the group_code field.
func (p *Poller) onGroupMessage(value gjson.Result) error {
	code := value.Get("group_code").Uint()
	msg := parseMessage(value.Get("send_uin").String(), value, p.log)

	group, known := p.dir.GroupByCode(code)
	if !known {
		return fmt.Errorf("Group message from unknown group code %d", code)
	}

	p.dir.AttachGroupMessage(group.ID, msg)

	p.events.emit(MessageEvent{
		Scope:   ScopeGroup,
		Key:     storage.PeerKey{GroupID: group.ID, UserID: msg.SourceID},
		Message: msg,
	})
	return nil
}

// Session messages arrive from group members who are not direct
// contacts. When the sender is not in the directory yet the message is
// buffered and the sender's identity gets fetched; adoption happens
// when that identity arrives.
func (p *Poller) onSessionMessage(value gjson.Result) error {
	groupID := value.Get("id").Uint()
	msg := parseMessage(value.Get("from_uin").String(), value, p.log)
	key := storage.PeerKey{GroupID: groupID, UserID: msg.SourceID}

	if !p.dir.AttachMessage(key, msg) {
		p.dir.BufferOrphanMessage(msg)
		if p.fetchStranger != nil {
			p.fetchStranger(groupID, msg.SourceID)
		}
	}

	p.events.emit(MessageEvent{Scope: ScopeSession, Key: key, Message: msg})
	return nil
}

func (p *Poller) onKick(value gjson.Result) error {
	reason := value.Get("reason").String()
	p.log.Warn("Kicked from server", zap.String("reason", reason))
	p.events.emit(KickedEvent{Reason: reason})
	return nil
}

func (p *Poller) onInputNotify(value gjson.Result) error {
	key := storage.PeerKey{
		GroupID: storage.NoGroup,
		UserID:  value.Get("from_uin").String(),
	}

	p.dir.SetTyping(key, true)
	p.events.emit(TypingEvent{Key: key})
	return nil
}

// parseMessage decodes the shared shape of incoming message events.
func parseMessage(sourceID string, value gjson.Result, log *zap.Logger) storage.Message {
	return storage.Message{
		SourceID:            sourceID,
		DestinationID:       value.Get("to_uin").String(),
		SequenceID:          value.Get("msg_id").Int(),
		SecondarySequenceID: value.Get("msg_id2").Int(),
		Kind:                int(value.Get("msg_type").Int()),
		Time:                time.Unix(value.Get("time").Int(), 0),
		Content:             protocol.DecodeContent(value.Get("content").Raw, log),
		ReplyAddress:        uint32(value.Get("reply_ip").Uint()),
	}
}
