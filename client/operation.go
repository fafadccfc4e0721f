package client

// Operation tags every outgoing request with the endpoint kind so the
// completion router can hand the raw bytes to the right parser. Kinds
// never collide between components; each registers its own handlers.
type Operation int

const (
	// Login phase operations
	OpChallenge Operation = iota
	OpCaptcha
	OpLogin
	OpLogout
	OpEstablish

	// After login
	OpContacts
	OpOnlineBuddies
	OpGroups
	OpGroupInfo
	OpGroupSig
	OpStrangerInfo
	OpAvatar
	OpChangeStatus
	OpPoll
	OpSendBuddy
	OpSendGroup
	OpSendSession
)

func (o Operation) String() string {
	switch o {
	case OpChallenge:
		return "challenge"
	case OpCaptcha:
		return "captcha"
	case OpLogin:
		return "login"
	case OpLogout:
		return "logout"
	case OpEstablish:
		return "establish"
	case OpContacts:
		return "contacts"
	case OpOnlineBuddies:
		return "online-buddies"
	case OpGroups:
		return "groups"
	case OpGroupInfo:
		return "group-info"
	case OpGroupSig:
		return "group-sig"
	case OpStrangerInfo:
		return "stranger-info"
	case OpAvatar:
		return "avatar"
	case OpChangeStatus:
		return "change-status"
	case OpPoll:
		return "poll"
	case OpSendBuddy:
		return "send-buddy"
	case OpSendGroup:
		return "send-group"
	case OpSendSession:
		return "send-session"
	default:
		return "unknown"
	}
}

// loginPhase reports whether an operation belongs to the pre-session
// handshake. Completions for these are never discarded by the gate.
func (o Operation) loginPhase() bool {
	switch o {
	case OpChallenge, OpCaptcha, OpLogin, OpLogout, OpEstablish:
		return true
	}
	return false
}
