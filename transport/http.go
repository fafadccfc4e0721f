package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"go.uber.org/zap"
)

var ErrHTTPStatus = errors.New("Server replied with a non-success HTTP status")

// HTTP performs the client's round trips. Calls never block the
// caller: the request runs on its own goroutine and the done callback
// fires exactly once with either the body bytes or a transport error.
// There is no cancel-in-flight; whoever stops caring simply discards
// the completion.
//
// The cookie jar is shared across all requests for the lifetime of the
// client, which is how the session cookies the login endpoints set
// become visible to the later calls that need them.
type HTTP struct {
	client *http.Client

	userAgent string
	maxBody   int64
	trace     bool

	log *zap.Logger
}

func NewHTTP(options Options) (*HTTP, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	maxBody := options.MaxBodySize
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}

	return &HTTP{
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		userAgent: options.UserAgent,
		maxBody:   maxBody,
		trace:     options.Trace,
		log:       options.Log,
	}, nil
}

func (h *HTTP) Get(rawurl string, headers map[string]string, done func([]byte, error)) {
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		go done(nil, err)
		return
	}

	h.do(req, headers, done)
}

func (h *HTTP) Post(rawurl string, body []byte, headers map[string]string, done func([]byte, error)) {
	req, err := http.NewRequest(http.MethodPost, rawurl, bytes.NewReader(body))
	if err != nil {
		go done(nil, err)
		return
	}

	h.do(req, headers, done)
}

// CookieValue returns the named cookie the jar currently holds for a
// url, or "" when there is none.
func (h *HTTP) CookieValue(rawurl, name string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}

	for _, cookie := range h.client.Jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (h *HTTP) do(req *http.Request, headers map[string]string, done func([]byte, error)) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	go func() {
		resp, err := h.client.Do(req)
		if err != nil {
			done(nil, err)
			return
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
		if err != nil {
			done(nil, err)
			return
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			done(nil, fmt.Errorf("%s %s: %w", req.URL.Host, resp.Status, ErrHTTPStatus))
			return
		}

		if h.trace {
			h.log.Debug("Round trip",
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.Int("bytes", len(data)))
		}

		done(data, nil)
	}()
}
