package transport

import (
	"time"

	"go.uber.org/zap"
)

type Options struct {
	// Timeout bounds every round trip, including the long poll. The
	// server holds the poll open for roughly a minute, so this must
	// comfortably exceed that. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent sent with every request
	UserAgent string

	// MaxBodySize bounds how much of a response body is read. Zero
	// means DefaultMaxBodySize.
	MaxBodySize int64

	// Trace will dump request/response summaries at debug level. This
	// is only useful in local debugging
	Trace bool

	Log *zap.Logger
}

const (
	DefaultTimeout     = 2 * time.Minute
	DefaultMaxBodySize = 4 << 20
)
