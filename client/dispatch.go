package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Transport is what the dispatcher needs from the HTTP layer. Calls
// must not block; the done callback fires exactly once per call with
// either the body bytes or a transport error.
type Transport interface {
	Get(url string, headers map[string]string, done func([]byte, error))
	Post(url string, body []byte, headers map[string]string, done func([]byte, error))

	// CookieValue returns the named cookie currently held for a url,
	// or "" when there is none.
	CookieValue(rawurl, name string) string
}

// HandlerFunc parses one endpoint's response bytes. The args are the
// correlation values the issuer attached, returned untouched so
// multi-argument context survives the round trip.
type HandlerFunc func(args []interface{}, data []byte)

// pendingCall is created per outgoing request and lives for one round
// trip.
type pendingCall struct {
	op     Operation
	args   []interface{}
	issued time.Time
}

type completion struct {
	pendingCall

	data []byte
	err  error
}

// Dispatcher issues outgoing calls through the Transport, tags each
// with its Operation and correlation args, and funnels every
// completion into a single channel that Run drains serially. It is a
// pure router: each Operation maps to exactly one registered handler
// in the auth, poll, roster or messaging component, and no business
// logic lives here.
type Dispatcher struct {
	transport Transport

	handlers map[Operation]HandlerFunc
	gate     func(Operation) bool

	completions chan completion

	log *zap.Logger
}

func NewDispatcher(transport Transport, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport:   transport,
		handlers:    make(map[Operation]HandlerFunc),
		completions: make(chan completion, 255),
		log:         log,
	}
}

// Handle registers the parser for an operation kind. Registration
// happens during wiring, before Run; it is not safe to call once
// completions are flowing.
func (d *Dispatcher) Handle(op Operation, h HandlerFunc) {
	if _, taken := d.handlers[op]; taken {
		// Operation kinds never collide between components
		panic("duplicate handler for operation " + op.String())
	}
	d.handlers[op] = h
}

// SetGate installs the predicate that decides whether a completion is
// still wanted. Responses that arrive after the session reverted to
// idle are discarded here rather than parsed against dead state.
func (d *Dispatcher) SetGate(gate func(Operation) bool) {
	d.gate = gate
}

func (d *Dispatcher) Get(op Operation, url string, args ...interface{}) {
	call := pendingCall{op: op, args: args, issued: time.Now()}

	d.transport.Get(url, map[string]string{"Referer": Referer}, func(data []byte, err error) {
		d.completions <- completion{pendingCall: call, data: data, err: err}
	})
}

func (d *Dispatcher) Post(op Operation, url string, body []byte, args ...interface{}) {
	call := pendingCall{op: op, args: args, issued: time.Now()}

	headers := map[string]string{
		"Referer":      Referer,
		"Content-Type": "application/x-www-form-urlencoded",
	}

	d.transport.Post(url, body, headers, func(data []byte, err error) {
		d.completions <- completion{pendingCall: call, data: data, err: err}
	})
}

// Run drains completions until the context is cancelled. All parsing
// and all directory mutation happens on this one goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Completion router exiting")
			return

		case c := <-d.completions:
			d.route(c)
		}
	}
}

func (d *Dispatcher) route(c completion) {
	log := d.log.With(
		zap.Stringer("op", c.op),
		zap.Duration("elapsed", time.Since(c.issued)))

	if c.err != nil {
		// No retry here; callers treat the missing response as a
		// timeout at their own layer.
		log.Warn("Request failed", zap.Error(c.err))
		return
	}

	if d.gate != nil && !d.gate(c.op) {
		log.Debug("Discarding completion for a closed session")
		return
	}

	handler, ok := d.handlers[c.op]
	if !ok {
		log.Warn("No handler for operation")
		return
	}

	handler(c.args, c.data)
}
