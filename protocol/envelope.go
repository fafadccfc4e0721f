package protocol

import (
	"github.com/tidwall/gjson"
)

// Retcodes with defined meaning. Anything else non-zero is a generic
// failure that callers log and give up on.
const (
	NoError            = 0
	PasswordError      = 3
	CaptchaError       = 4
	PollNoEvents       = 102
	PollSessionExpired = 103
	DefaultError       = 10000
)

// ParseEnvelope pulls the uniform `{retcode, result}` wrapper apart.
//
// The retcode defaults to DefaultError when absent so that a body the
// server mangled can never be mistaken for success. The result is
// returned as a raw gjson value; its shape differs per endpoint and
// only the caller knows what to expect of it.
func ParseEnvelope(data []byte) (int, gjson.Result) {
	retcode := gjson.GetBytes(data, "retcode")
	if !retcode.Exists() {
		return DefaultError, gjson.Result{}
	}

	return int(retcode.Int()), gjson.GetBytes(data, "result")
}
