package protocol

// This package implements the wire micro-formats of the chat service
// that chirp talks to. The service is a plain HTTP API with a twist:
// almost nothing about it is uniform, so each little format gets its
// own parser here.
//
// === Response envelope
//
// Every JSON endpoint wraps its reply in the same envelope
//
//   ```
//   { "retcode": <int>, "result": <anything> }
//   ```
//
// `retcode` 0 is success. A small set of non-zero codes carry meaning
// (wrong password, wrong captcha, poll returned with no events, poll
// session expired); everything else is a generic failure. A missing
// `retcode` is treated as `DefaultError` rather than success.
//
// === Challenge / login bodies
//
// The two pre-session endpoints do NOT return JSON. They return a
// function-call-shaped text body
//
//   ```
//   ptui_checkVC('1','tok1','\x00\x00\x00\x00\xde\xad\xbe\xef');
//   ```
//
// ParseParamList strips the outer parentheses, splits on commas and
// removes one layer of surrounding quotes from each field. Meaning is
// positional, so callers go through ParamList's fixed-arity accessors
// which validate length instead of indexing blind.
//
// === Message content
//
// Chat text travels as a JSON array mixing literal strings, two-element
// `["face",<id>]` pairs for inline emoticons, and one `["font",{...}]`
// metadata element:
//
//   ```
//   [["font",{"size":10,...}],"hello",["face",14],"world"]
//   ```
//
// On encode the font element is synthesized and appended last; on
// decode it arrives first and is dropped. The plain-text form writes
// faces as `[face14]` tokens, and EncodeContent/DecodeContent round-trip
// literal segments and face ids exactly.
//
// === Send bodies
//
// Outgoing POSTs are form-encoded as `r=<json>&clientid=..&psessionid=..`
// where `=` and `&` survive as literal separators and every other
// reserved character is percent-encoded. PercentEncode reproduces that
// exact escaping.
//
// === Oddities
//
// FriendListHash is a keyed-XOR token the contact list endpoint demands.
// It is not cryptography, it is a compatibility shim and is reproduced
// bit for bit, truncation quirks included.
