package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotParamList   = errors.New("Body does not contain a parenthesised parameter list")
	ErrShortParamList = errors.New("Parameter list has fewer fields than expected")
)

// ParamList is the positional field list carried by the challenge and
// login endpoints. Meaning is purely positional, so access goes through
// At/IntAt which validate length instead of indexing blind.
type ParamList []string

// ParseParamList parses a function-call-shaped body such as
//
//	ptui_checkVC('1','tok1','deadbeef');
//
// Everything between the outermost parentheses is split on commas,
// each field is trimmed and one layer of surrounding quotes removed.
func ParseParamList(body string) (ParamList, error) {
	beg := strings.Index(body, "(")
	end := strings.LastIndex(body, ")")
	if beg < 0 || end < beg {
		return nil, fmt.Errorf("Failed to parse '%s': %w", body, ErrNotParamList)
	}

	fields := strings.Split(body[beg+1:end], ",")
	list := make(ParamList, 0, len(fields))

	for _, field := range fields {
		field = strings.TrimSpace(field)
		if len(field) >= 2 {
			// Remove one layer of surrounding quote characters
			if field[0] == '\'' && field[len(field)-1] == '\'' {
				field = field[1 : len(field)-1]
			} else if field[0] == '"' && field[len(field)-1] == '"' {
				field = field[1 : len(field)-1]
			}
		}
		list = append(list, field)
	}

	return list, nil
}

// At returns field i, or ErrShortParamList when the list is too short.
func (p ParamList) At(i int) (string, error) {
	if i >= len(p) {
		return "", fmt.Errorf("Field %d of %d: %w", i, len(p), ErrShortParamList)
	}
	return p[i], nil
}

// IntAt returns field i parsed as a decimal integer. A field that is
// present but not numeric parses as 0, which mirrors how the server's
// own javascript consumed these lists.
func (p ParamList) IntAt(i int) (int, error) {
	field, err := p.At(i)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, nil
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
