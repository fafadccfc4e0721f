package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chirp/protocol"
)

var _ = Describe("FriendListHash()", func() {
	It("is deterministic and twice the keyed length", func() {
		first := protocol.FriendListHash("12345", "cookieXYZ")
		second := protocol.FriendListHash("12345", "cookieXYZ")

		Expect(first).To(Equal(second))
		Expect(first).To(HaveLen(2 * len("cookieXYZ"+"password error")))
	})

	It("matches a hand-computed value", func() {
		// "AB" tiled over "password error" and XORed, byte by byte
		Expect(protocol.FriendListHash("AB", "")).To(Equal("31233231362D3326612733302E30"))
	})

	It("truncates the final repetition of the user id", func() {
		// len("ABpassword error") == 16, "123" tiles as 123123123123123 1
		hash := protocol.FriendListHash("123", "AB")
		Expect(hash).To(HaveLen(32))

		// First byte is '1' ^ 'A' = 0x70
		Expect(hash[:2]).To(Equal("70"))
		// Last byte is the truncated repetition: '1' ^ 'r' = 0x43
		Expect(hash[30:]).To(Equal("43"))
	})
})

var _ = Describe("PercentEncode()", func() {
	It("keeps the form separators and unreserved characters literal", func() {
		Expect(protocol.PercentEncode("r=1&clientid=abc-._~")).To(Equal("r=1&clientid=abc-._~"))
	})

	It("escapes everything else as uppercase hex", func() {
		Expect(protocol.PercentEncode(`r={"to":1}`)).To(Equal("r=%7B%22to%22%3A1%7D"))
		Expect(protocol.PercentEncode("a b")).To(Equal("a%20b"))
	})
})
