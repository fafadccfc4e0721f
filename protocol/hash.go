package protocol

// FriendListHash computes the token that authorizes the contact list
// endpoint. The scheme: append the literal "password error" to the
// session cookie value, tile the user id over it (truncating the final
// repetition), XOR byte-wise, and render the result as uppercase hex.
// Not a cryptographic operation, just a shim the server insists on, so
// the quirks are reproduced exactly. The result is always twice as long
// as cookie+"password error".
func FriendListHash(userID, sessionCookie string) string {
	a := sessionCookie + "password error"
	if userID == "" {
		return ""
	}

	s := make([]byte, 0, len(a)+len(userID))
	for len(s) < len(a) {
		s = append(s, userID...)
	}
	s = s[:len(a)]

	const hex = "0123456789ABCDEF"

	out := make([]byte, 2*len(a))
	for i := 0; i < len(a); i++ {
		x := s[i] ^ a[i]
		out[2*i] = hex[x>>4]
		out[2*i+1] = hex[x&15]
	}
	return string(out)
}
