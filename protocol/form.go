package protocol

// PercentEncode escapes a send body for the form-encoded POSTs. The
// server wants `r=<json>&clientid=..&psessionid=..` with `=` and `&`
// kept as literal separators and every other reserved byte
// percent-encoded, which matches no stock encoder exactly.
func PercentEncode(s string) string {
	const hex = "0123456789ABCDEF"

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			out = append(out, '%', hex[c>>4], hex[c&15])
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}

func shouldEscape(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '-' || c == '.' || c == '_' || c == '~':
		return false
	case c == '=' || c == '&':
		// Preserved as the form separators
		return false
	}
	return true
}
