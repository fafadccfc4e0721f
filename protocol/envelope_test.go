package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chirp/protocol"
)

var _ = Describe("ParseEnvelope()", func() {
	It("extracts the retcode and the raw result", func() {
		retcode, result := protocol.ParseEnvelope([]byte(`{"retcode":0,"result":{"account":123456}}`))
		Expect(retcode).To(Equal(protocol.NoError))
		Expect(result.Get("account").Int()).To(Equal(int64(123456)))
	})

	It("passes list-shaped results through untouched", func() {
		retcode, result := protocol.ParseEnvelope([]byte(`{"retcode":0,"result":[{"uin":1},{"uin":2}]}`))
		Expect(retcode).To(Equal(protocol.NoError))
		Expect(result.IsArray()).To(BeTrue())
		Expect(result.Array()).To(HaveLen(2))
	})

	It("defaults a missing retcode to the error sentinel", func() {
		retcode, result := protocol.ParseEnvelope([]byte(`{"result":{}}`))
		Expect(retcode).To(Equal(protocol.DefaultError))
		Expect(result.Exists()).To(BeFalse())
	})

	It("defaults to the error sentinel for bodies that are not JSON objects", func() {
		retcode, _ := protocol.ParseEnvelope([]byte(`garbage`))
		Expect(retcode).To(Equal(protocol.DefaultError))
	})

	It("surfaces the defined non-zero codes", func() {
		retcode, _ := protocol.ParseEnvelope([]byte(`{"retcode":102}`))
		Expect(retcode).To(Equal(protocol.PollNoEvents))

		retcode, _ = protocol.ParseEnvelope([]byte(`{"retcode":103}`))
		Expect(retcode).To(Equal(protocol.PollSessionExpired))
	})
})
