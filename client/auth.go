package client

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/chirp/protocol"
	"github.com/luma/chirp/storage"
)

var (
	ErrNotEstablished    = errors.New("Session is not established")
	ErrMalformedResponse = errors.New("Response is missing expected fields")
)

// Auth drives the login state machine: challenge, optional captcha,
// login, session establishment. It owns the Session record; state
// transitions happen either on the caller's goroutine (issuing a step)
// or on the completion-dispatch goroutine (parsing its response), and
// the caller contract is that steps are not overlapped.
type Auth struct {
	mu      sync.Mutex
	session Session

	// wantStatus is the presence requested at login, reported to the
	// server again when the session is established
	wantStatus storage.Status

	appID string

	dispatcher *Dispatcher
	transport  Transport
	dir        storage.Directory
	events     *events
	avatars    *storage.AvatarCache
	rng        *rand.Rand

	log *zap.Logger
}

func newAuth(
	dispatcher *Dispatcher,
	transport Transport,
	dir storage.Directory,
	events *events,
	avatars *storage.AvatarCache,
	appID string,
	rng *rand.Rand,
	log *zap.Logger,
) *Auth {
	a := &Auth{
		session: Session{
			ClientID: newClientID(rng),
			State:    StateIdle,
		},
		wantStatus: storage.StatusOnline,
		appID:      appID,
		dispatcher: dispatcher,
		transport:  transport,
		dir:        dir,
		events:     events,
		avatars:    avatars,
		rng:        rng,
		log:        log,
	}

	dispatcher.Handle(OpChallenge, a.onChallenge)
	dispatcher.Handle(OpCaptcha, a.onCaptcha)
	dispatcher.Handle(OpLogin, a.onLogin)
	dispatcher.Handle(OpEstablish, a.onEstablish)
	dispatcher.Handle(OpLogout, a.onLogout)

	return a
}

// State returns the current position of the login state machine.
func (a *Auth) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.State
}

// Snapshot returns a read-only copy of the session record.
func (a *Auth) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// BeginChallenge starts the handshake: the server decides whether this
// user must solve a captcha before submitting a password.
func (a *Auth) BeginChallenge(userID string) {
	a.mu.Lock()
	a.session.UserID = userID
	a.session.State = StateChallengeSent
	a.mu.Unlock()

	a.log.Debug("Checking whether a captcha is needed", zap.String("user", userID))

	query := url.Values{}
	query.Set("uin", userID)
	query.Set("appid", a.appID)
	query.Set("r", a.random())

	a.dispatcher.Get(OpChallenge, challengeURL+"?"+query.Encode())
}

// The challenge body is the function-call-shaped text
// `ptui_checkVC('1','tok1','\x00\x00...')`: status code, verify
// ticket, hex-encoded user id hint.
func (a *Auth) onChallenge(args []interface{}, data []byte) {
	list, err := protocol.ParseParamList(string(data))
	if err != nil {
		a.fail("challenge", err)
		return
	}

	code, err := list.IntAt(0)
	if err != nil {
		a.fail("challenge", err)
		return
	}

	ticket, _ := list.At(1)
	hint, _ := list.At(2)

	a.mu.Lock()
	a.session.Ticket = ticket
	a.session.UserIDHex = hint
	a.mu.Unlock()

	if code == protocol.NoError {
		a.log.Debug("Challenge cleared, no captcha needed")
		a.setState(StateChallengeCleared)
		a.events.emit(ChallengeClearedEvent{})
		return
	}

	if ticket == "" {
		// Neither cleared nor a usable ticket; nothing to proceed with
		a.log.Warn("Challenge returned no ticket", zap.ByteString("body", data))
		return
	}

	a.log.Debug("Captcha needed")
	a.setState(StateCaptchaRequired)
	a.fetchCaptcha()
}

func (a *Auth) fetchCaptcha() {
	query := url.Values{}
	query.Set("uin", a.Snapshot().UserID)
	query.Set("aid", a.appID)
	query.Set("r", a.random())

	a.dispatcher.Get(OpCaptcha, captchaURL+"?"+query.Encode())
}

// The captcha response is the raw image. Its format is sniffed from
// the leading bytes for display purposes only.
func (a *Auth) onCaptcha(args []interface{}, data []byte) {
	format := protocol.SniffImageFormat(data)
	if format == "" {
		a.log.Warn("Captcha image has unknown format")
	}

	path := ""
	if a.avatars != nil && format != "" {
		if p, err := a.avatars.Put("captcha-"+a.Snapshot().UserID, data); err == nil {
			path = p
		}
	}

	a.events.emit(CaptchaEvent{Image: data, Format: format, Path: path})
}

// SubmitLogin sends the password along with the challenge ticket and,
// when one was required, the solved captcha code.
func (a *Auth) SubmitLogin(userID, password, captchaCode string, status storage.Status) {
	a.mu.Lock()
	a.session.UserID = userID
	if captchaCode == "" {
		// Challenge was cleared; the ticket doubles as the code
		captchaCode = a.session.Ticket
	}
	a.wantStatus = status
	a.mu.Unlock()

	query := url.Values{}
	query.Set("u", userID)
	query.Set("p", password)
	query.Set("verifycode", captchaCode)
	query.Set("aid", a.appID)
	query.Set("webqq_type", "10")
	query.Set("remember_uin", "0")
	query.Set("login2qq", "1")
	query.Set("h", "1")
	query.Set("ptredirect", "0")
	query.Set("ptlang", "2052")
	query.Set("from_ui", "1")
	query.Set("pttype", "1")
	query.Set("fp", "loginerroralert")
	query.Set("action", "2-6-22950")
	query.Set("mibao_css", "m_webqq")
	query.Set("t", "1")
	query.Set("g", "1")

	a.dispatcher.Get(OpLogin, loginURL+"?"+query.Encode())
}

func (a *Auth) onLogin(args []interface{}, data []byte) {
	list, err := protocol.ParseParamList(string(data))
	if err != nil {
		a.fail("login", err)
		return
	}

	code, err := list.IntAt(0)
	if err != nil {
		a.fail("login", err)
		return
	}

	switch code {
	case protocol.NoError:
		a.log.Debug("Login accepted")
		a.setState(StateLoginSubmitted)
		a.establishSession()

	case protocol.CaptchaError:
		// Wrong captcha; fetch a fresh image and let the user retry
		a.log.Warn("Captcha rejected, fetching a new one")
		a.setState(StateCaptchaRequired)
		a.events.emit(AuthFailedEvent{Code: code, Message: a.loginError(list)})
		a.fetchCaptcha()

	default:
		message := a.loginError(list)
		a.log.Warn("Login rejected",
			zap.Int("code", code),
			zap.String("message", message))
		a.setState(StateFailed)
		a.events.emit(AuthFailedEvent{Code: code, Message: message})
	}
}

// loginError is field 4 of the login response, when present.
func (a *Auth) loginError(list protocol.ParamList) string {
	message, err := list.At(4)
	if err != nil {
		return ""
	}
	return message
}

// establishSession trades the login ticket for the long-poll session
// identifiers. The ptwebqq cookie it reads was set by the login step.
func (a *Auth) establishSession() {
	a.mu.Lock()
	a.session.State = StateSessionEstablishing
	a.session.SessionCookie = a.transport.CookieValue(establishURL, sessionCookieName)

	cookie := a.session.SessionCookie
	clientID := a.session.ClientID
	sessionID := a.session.SessionID
	status := a.wantStatus
	a.mu.Unlock()

	body := "{}"
	body, _ = sjson.Set(body, "status", status.String())
	body, _ = sjson.Set(body, "ptwebqq", cookie)
	body, _ = sjson.Set(body, "passwd_sig", "")
	body, _ = sjson.Set(body, "clientid", clientID)
	body, _ = sjson.Set(body, "psessionid", sessionID)

	p := fmt.Sprintf("r=%s&clientid=%s&psessionid=%s", body, clientID, sessionID)

	a.dispatcher.Post(OpEstablish, establishURL, []byte(protocol.PercentEncode(p)))
}

func (a *Auth) onEstablish(args []interface{}, data []byte) {
	retcode, result := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		a.fail("establish", fmt.Errorf("retcode %d: %w", retcode, ErrMalformedResponse))
		return
	}

	sessionID := result.Get("psessionid").String()
	verifyToken := result.Get("vfwebqq").String()
	if sessionID == "" || verifyToken == "" {
		a.fail("establish", fmt.Errorf("no session identifiers: %w", ErrMalformedResponse))
		return
	}

	userID := result.Get("uin").String()
	status := storage.ParseStatus(result.Get("status").String())

	a.mu.Lock()
	a.session.UserID = userID
	a.session.SessionID = sessionID
	a.session.VerifyToken = verifyToken
	a.session.SessionPort = int(result.Get("port").Int())
	a.session.SessionIndex = int(result.Get("index").Int())
	a.session.Status = status
	a.session.State = StateEstablished
	a.mu.Unlock()

	a.dir.UpsertPeer(storage.Peer{
		Key:    storage.PeerKey{GroupID: storage.NoGroup, UserID: userID},
		Status: status,
	})

	a.log.Info("Session established",
		zap.String("user", userID),
		zap.Stringer("status", status))

	a.events.emit(SessionReadyEvent{UserID: userID, Status: status})
}

// Reestablish re-runs session establishment from already-known session
// material after a detected disconnect. It never re-runs the
// challenge/login steps and is safe to call repeatedly; overlapping
// calls are the caller's problem to serialize.
func (a *Auth) Reestablish() {
	a.log.Info("Re-establishing session")
	a.establishSession()
}

// Logout tears the session down. The session record is cleared
// immediately; the server call is best-effort and any responses still
// in flight get discarded by the completion gate.
func (a *Auth) Logout() {
	a.mu.Lock()
	clientID := a.session.ClientID
	sessionID := a.session.SessionID
	a.session = Session{ClientID: clientID, State: StateIdle}
	a.mu.Unlock()

	query := url.Values{}
	query.Set("ids", "")
	query.Set("clientid", clientID)
	query.Set("psessionid", sessionID)
	query.Set("t", timestamp())

	a.dispatcher.Get(OpLogout, logoutURL+"?"+query.Encode())
}

func (a *Auth) onLogout(args []interface{}, data []byte) {
	retcode, _ := protocol.ParseEnvelope(data)
	if retcode != protocol.NoError {
		a.log.Warn("Logout not acknowledged", zap.Int("retcode", retcode))
		return
	}
	a.log.Info("Logged out")
}

// abandon drops the session without a server round trip, for when the
// server has already terminated it (a kick).
func (a *Auth) abandon() {
	a.mu.Lock()
	clientID := a.session.ClientID
	a.session = Session{ClientID: clientID, State: StateIdle}
	a.mu.Unlock()
}

// setOwnStatus records a server-acknowledged presence change.
func (a *Auth) setOwnStatus(status storage.Status) {
	a.mu.Lock()
	a.session.Status = status
	a.mu.Unlock()
}

func (a *Auth) setState(state AuthState) {
	a.mu.Lock()
	a.session.State = state
	a.mu.Unlock()
}

// fail marks the current step unrecoverable. Prior session state stays
// intact apart from the state marker; nothing is retried.
func (a *Auth) fail(step string, err error) {
	a.log.Error("Auth step failed", zap.String("step", step), zap.Error(err))
	a.setState(StateFailed)
	a.events.emit(AuthFailedEvent{Code: protocol.DefaultError, Message: err.Error()})
}

func (a *Auth) random() string {
	return strconv.FormatFloat(a.rng.Float64(), 'g', 14, 64)
}
