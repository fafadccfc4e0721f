package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

var (
	ErrUnterminatedFace = errors.New("Face marker is missing its closing bracket")

	faceToken = regexp.MustCompile(`\[face(\d{1,3})\]`)
	faceOpen  = regexp.MustCompile(`\[face\d{1,3}`)
)

// fontElement is appended to every encoded content array. The server
// requires it but we never let users pick fonts, so it is a constant.
const fontElement = `["font",{"name":"Arial","size":"10","style":[0,0,0],"color":"000000"}]`

// EncodeContent turns plain text with inline `[face<id>]` tokens into
// the content array the send endpoints expect: literal segments and
// `["face",<id>]` pairs in original order, with the font metadata
// element appended last.
func EncodeContent(text string) (string, error) {
	out := "[]"

	var err error
	rest := text

	for rest != "" {
		loc := faceToken.FindStringSubmatchIndex(rest)
		if loc == nil {
			if faceOpen.MatchString(rest) {
				return "", fmt.Errorf("Failed to encode '%s': %w", text, ErrUnterminatedFace)
			}

			if out, err = sjson.Set(out, "-1", rest); err != nil {
				return "", err
			}
			break
		}

		if loc[0] > 0 {
			// The text before the face token is a literal segment
			seg := rest[:loc[0]]
			if faceOpen.MatchString(seg) {
				return "", fmt.Errorf("Failed to encode '%s': %w", text, ErrUnterminatedFace)
			}

			if out, err = sjson.Set(out, "-1", seg); err != nil {
				return "", err
			}
		}

		if out, err = sjson.SetRaw(out, "-1", `["face",`+rest[loc[2]:loc[3]]+`]`); err != nil {
			return "", err
		}

		rest = rest[loc[1]:]
	}

	return sjson.SetRaw(out, "-1", fontElement)
}

// DecodeContent renders a wire content array back to plain text.
//
// The leading font metadata element is dropped, never rendered. When it
// is missing we log and carry on; the remaining elements still decode.
// Literal strings are appended verbatim and face pairs come back as
// `[face<id>]` tokens, so text that went through EncodeContent
// round-trips exactly. Elements of any other shape are skipped with a
// warning rather than failing the whole message.
func DecodeContent(wire string, log *zap.Logger) string {
	parsed := gjson.Parse(wire)
	if !parsed.IsArray() {
		log.Warn("Content is not an array", zap.String("content", wire))
		return ""
	}

	elems := parsed.Array()
	if len(elems) > 0 && isFontElement(elems[0]) {
		elems = elems[1:]
	} else {
		log.Warn("Font metadata element not found", zap.String("content", wire))
	}

	var text strings.Builder

	for _, el := range elems {
		switch {
		case el.Type == gjson.String:
			text.WriteString(el.String())

		case el.IsArray():
			if isFontElement(el) {
				// Synthesized metadata, never rendered. Our own encoder
				// appends it last, so it can show up anywhere.
				continue
			}

			// ["face",14] renders as the inline token "[face14]"
			text.WriteByte('[')
			for _, part := range el.Array() {
				text.WriteString(part.String())
			}
			text.WriteByte(']')

		default:
			log.Warn("Unknown content element", zap.String("element", el.Raw))
		}
	}

	return text.String()
}

func isFontElement(el gjson.Result) bool {
	if !el.IsArray() {
		return false
	}
	parts := el.Array()
	return len(parts) > 0 && parts[0].String() == "font"
}
