package client_test

import (
	"context"
	"math/rand"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chirp/client"
	"github.com/luma/chirp/storage"
)

var _ = Describe("Client", func() {
	var (
		tr     *fakeTransport
		dir    *storage.InmemoryDirectory
		c      *client.Client
		rec    *eventRecorder
		cancel context.CancelFunc
		stop   chan struct{}
	)

	BeforeEach(func() {
		tr = newFakeTransport()
		dir = storage.NewInmemoryDirectory()

		var err error
		c, err = client.New(client.Options{
			Transport: tr,
			Directory: dir,
			Rand:      rand.New(rand.NewSource(1)),
		})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		stop = make(chan struct{})
		rec = recordEvents(c, stop)

		go c.Run(ctx)
	})

	AfterEach(func() {
		cancel()
		close(stop)
		Expect(dir.Close()).To(Succeed())
	})

	stubLoginChain := func() {
		tr.setCookie("ptwebqq", "COOKIE")
		tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('0','!ABC','\\x00\\x00\\x00\\x00');")
		tr.stub("ptlogin2.qq.com/login", "ptuiCB('0','0','http://web2.qq.com/loginproxy.html','0','ok','nick');")
		tr.stub("channel/login2", `{"retcode":0,"result":{"uin":"12345","status":"online","psessionid":"PSID","vfwebqq":"VTOK","port":443,"index":1}}`)
		tr.stub("get_user_friends2", `{"retcode":0,"result":{"info":[{"uin":"777","nick":"Ann"},{"uin":"888","nick":"Bob"}],"marknames":[{"uin":"777","markname":"annie"}]}}`)
		tr.stub("get_online_buddies2", `{"retcode":0,"result":[{"uin":"777","status":"online","client_type":1}]}`)
		tr.stub("get_group_name_list_mask2", `{"retcode":0,"result":{"gnamelist":[{"gid":42,"code":4242,"name":"dev"}]}}`)
	}

	establish := func() {
		stubLoginChain()
		c.BeginChallenge("12345")
		Eventually(c.State).Should(Equal(client.StateChallengeCleared))
		c.SubmitLogin("12345", "hunter2", "", storage.StatusOnline)
		Eventually(c.State).Should(Equal(client.StateEstablished))
	}

	isPollDone := func(ev client.Event) bool {
		_, ok := ev.(client.PollDoneEvent)
		return ok
	}

	Describe("login handshake", func() {
		It("clears the challenge without fetching a captcha", func() {
			tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('0','!ABC','\\x00\\x00');")

			c.BeginChallenge("12345")

			Eventually(c.State).Should(Equal(client.StateChallengeCleared))
			Expect(c.Session().Ticket).To(Equal("!ABC"))
			Expect(tr.requestCount("getimage")).To(BeZero())
			Eventually(func() int {
				return rec.count(func(ev client.Event) bool {
					_, ok := ev.(client.ChallengeClearedEvent)
					return ok
				})
			}).Should(Equal(1))
		})

		It("fetches a captcha image when the server demands one", func() {
			tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('1','TOK','AABBCCDD');")
			tr.stub("getimage", "\x89PNG\r\n\x1a\nrest-of-image")

			c.BeginChallenge("12345")

			Eventually(c.State).Should(Equal(client.StateCaptchaRequired))
			Eventually(func() client.Event {
				return rec.first(func(ev client.Event) bool {
					_, ok := ev.(client.CaptchaEvent)
					return ok
				})
			}).ShouldNot(BeNil())

			captcha := rec.first(func(ev client.Event) bool {
				_, ok := ev.(client.CaptchaEvent)
				return ok
			}).(client.CaptchaEvent)
			Expect(captcha.Format).To(Equal(".png"))
			Expect(string(captcha.Image)).To(HavePrefix("\x89PNG"))
		})

		It("survives a challenge that carries no usable ticket", func() {
			tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('1','','AABB');")

			c.BeginChallenge("12345")

			Eventually(func() int { return tr.requestCount("check.ptlogin2") }).Should(Equal(1))
			Consistently(c.State).Should(Equal(client.StateChallengeSent))
			Expect(tr.requestCount("getimage")).To(BeZero())
		})

		It("fetches a fresh captcha when the code is rejected", func() {
			tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('1','TOK','AABB');")
			tr.stub("getimage", "\x89PNG\r\n\x1a\nfirst")
			tr.stub("ptlogin2.qq.com/login", "ptuiCB('4','0','','0','wrong code','');")
			tr.stub("getimage", "\x89PNG\r\n\x1a\nsecond")

			c.BeginChallenge("12345")
			Eventually(c.State).Should(Equal(client.StateCaptchaRequired))

			c.SubmitLogin("12345", "hunter2", "WRNG", storage.StatusOnline)

			Eventually(func() int { return tr.requestCount("getimage") }).Should(Equal(2))
			Expect(c.State()).To(Equal(client.StateCaptchaRequired))

			Eventually(func() client.Event {
				return rec.first(func(ev client.Event) bool {
					_, ok := ev.(client.AuthFailedEvent)
					return ok
				})
			}).ShouldNot(BeNil())

			failed := rec.first(func(ev client.Event) bool {
				_, ok := ev.(client.AuthFailedEvent)
				return ok
			})
			Expect(failed.(client.AuthFailedEvent).Code).To(Equal(4))
		})

		It("fails terminally on a wrong password", func() {
			tr.stub("check.ptlogin2.qq.com/check", "ptui_checkVC('0','!ABC','AABB');")
			tr.stub("ptlogin2.qq.com/login", "ptuiCB('3','0','','0','password incorrect','');")

			c.BeginChallenge("12345")
			Eventually(c.State).Should(Equal(client.StateChallengeCleared))

			c.SubmitLogin("12345", "wrong", "", storage.StatusOnline)

			Eventually(c.State).Should(Equal(client.StateFailed))

			Eventually(func() client.Event {
				return rec.first(func(ev client.Event) bool {
					_, ok := ev.(client.AuthFailedEvent)
					return ok
				})
			}).ShouldNot(BeNil())

			failed := rec.first(func(ev client.Event) bool {
				_, ok := ev.(client.AuthFailedEvent)
				return ok
			})
			Expect(failed.(client.AuthFailedEvent).Code).To(Equal(3))
			Expect(failed.(client.AuthFailedEvent).Message).To(Equal("password incorrect"))
		})

		It("establishes a session and loads the directory", func() {
			establish()

			session := c.Session()
			Expect(session.SessionID).To(Equal("PSID"))
			Expect(session.VerifyToken).To(Equal("VTOK"))
			Expect(session.SessionCookie).To(Equal("COOKIE"))

			Eventually(func() int {
				return rec.count(func(ev client.Event) bool {
					_, ok := ev.(client.ContactsReadyEvent)
					return ok
				})
			}).Should(Equal(1))

			Expect(tr.lastBody("get_user_friends2")).To(ContainSubstring("hash"))

			_, known := dir.ResolvePeer(storage.PeerKey{GroupID: storage.NoGroup, UserID: "777"})
			Expect(known).To(BeTrue())

			group, known := dir.Group(42)
			Expect(known).To(BeTrue())
			Expect(group.Code).To(Equal(uint64(4242)))
		})
	})

	Describe("polling", func() {
		It("dispatches status changes and skips unknown events", func() {
			tr.stub("channel/poll2", `{"retcode":0,"result":[
				{"poll_type":"buddies_status_change","value":{"uin":"888","status":"online","client_type":1}},
				{"poll_type":"mystery","value":{}}]}`)

			establish()

			Eventually(func() int {
				return rec.count(func(ev client.Event) bool {
					_, ok := ev.(client.BuddyOnlineEvent)
					return ok
				})
			}).Should(Equal(1))

			Eventually(func() int {
				return rec.count(func(ev client.Event) bool {
					_, ok := ev.(client.BuddyStatusEvent)
					return ok
				})
			}).Should(Equal(1))

			peer, known := dir.ResolvePeer(storage.PeerKey{GroupID: storage.NoGroup, UserID: "888"})
			Expect(known).To(BeTrue())
			Expect(peer.Status).To(Equal(storage.StatusOnline))
		})

		It("treats an empty poll cycle as benign and re-arms", func() {
			tr.stub("channel/poll2", `{"retcode":102}`)

			establish()

			Eventually(func() int { return rec.count(isPollDone) }).Should(BeNumerically(">=", 1))
			Eventually(func() int { return tr.requestCount("channel/poll2") }).Should(Equal(2))
		})

		It("suspends polling and re-establishes on session expiry", func() {
			tr.stub("channel/poll2", `{"retcode":103}`)
			stubLoginChain()
			// Single-use stubs match in insertion order: the first
			// establishment takes the chain's response, this one feeds
			// the re-establishment
			tr.stub("channel/login2", `{"retcode":0,"result":{"uin":"12345","status":"online","psessionid":"PSID2","vfwebqq":"VTOK2","port":443,"index":1}}`)

			c.BeginChallenge("12345")
			Eventually(c.State).Should(Equal(client.StateChallengeCleared))
			c.SubmitLogin("12345", "hunter2", "", storage.StatusOnline)

			Eventually(func() int {
				return rec.count(func(ev client.Event) bool {
					_, ok := ev.(client.SessionExpiredEvent)
					return ok
				})
			}).Should(Equal(1))

			Eventually(func() string { return c.Session().SessionID }).Should(Equal("PSID2"))
			Expect(tr.requestCount("channel/login2")).To(Equal(2))
		})

		It("stores an incoming buddy message and clears typing", func() {
			tr.stub("channel/poll2", `{"retcode":0,"result":[
				{"poll_type":"input_notify","value":{"from_uin":"777"}},
				{"poll_type":"message","value":{"from_uin":"777","to_uin":"12345","msg_id":9,"msg_id2":18,"msg_type":9,"time":1346000000,"reply_ip":12345,
					"content":[["font",{"name":"Arial","size":"10","style":[0,0,0],"color":"000000"}],"hello ",["face",14]]}}]}`)

			establish()

			key := storage.PeerKey{GroupID: storage.NoGroup, UserID: "777"}

			Eventually(func() int {
				peer, _ := dir.ResolvePeer(key)
				return len(peer.Messages)
			}).Should(Equal(1))

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Messages[0].Content).To(Equal("hello [face14]"))
			Expect(peer.Typing).To(BeFalse(), "the message supersedes the typing notification")

			msg := rec.first(func(ev client.Event) bool {
				m, ok := ev.(client.MessageEvent)
				return ok && m.Scope == client.ScopeBuddy
			})
			Expect(msg).NotTo(BeNil())
			Expect(msg.(client.MessageEvent).Key).To(Equal(key))

			Expect(rec.count(func(ev client.Event) bool {
				_, ok := ev.(client.TypingEvent)
				return ok
			})).To(Equal(1))
		})

		It("routes group messages through the group code", func() {
			tr.stub("channel/poll2", `{"retcode":0,"result":[
				{"poll_type":"group_message","value":{"from_uin":987654321,"group_code":4242,"send_uin":"999","to_uin":"12345","msg_id":7,"time":1346000000,
					"content":["in the group"]}}]}`)

			establish()

			Eventually(func() int {
				group, _ := dir.Group(42)
				return len(group.Messages)
			}).Should(Equal(1))

			group, _ := dir.Group(42)
			Expect(group.Messages[0].SourceID).To(Equal("999"))
			Expect(group.Messages[0].Content).To(Equal("in the group"))
		})

		It("buffers session messages from strangers and fetches their identity", func() {
			tr.stub("channel/poll2", `{"retcode":0,"result":[
				{"poll_type":"sess_message","value":{"id":42,"from_uin":"999","to_uin":"12345","msg_id":3,"time":1346000000,
					"content":["psst"]}}]}`)
			tr.stub("get_stranger_info2", `{"retcode":0,"result":{"uin":"999","nick":"Stranger"}}`)

			establish()

			key := storage.PeerKey{GroupID: 42, UserID: "999"}

			Eventually(func() bool {
				peer, known := dir.ResolvePeer(key)
				return known && len(peer.Messages) == 1
			}).Should(BeTrue(), "the orphaned message is adopted once the identity lands")

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Nickname).To(Equal("Stranger"))
			Expect(peer.Messages[0].Content).To(Equal("psst"))
		})

		It("emits a kick event", func() {
			tr.stub("channel/poll2", `{"retcode":0,"result":[
				{"poll_type":"kick_message","value":{"reason":"signed in elsewhere"}}]}`)
			stubLoginChain()

			// The kick abandons the session as soon as polling starts,
			// so only the terminal state is asserted
			c.BeginChallenge("12345")
			Eventually(c.State).Should(Equal(client.StateChallengeCleared))
			c.SubmitLogin("12345", "hunter2", "", storage.StatusOnline)

			Eventually(func() client.Event {
				return rec.first(func(ev client.Event) bool {
					_, ok := ev.(client.KickedEvent)
					return ok
				})
			}).ShouldNot(BeNil())

			kicked := rec.first(func(ev client.Event) bool {
				_, ok := ev.(client.KickedEvent)
				return ok
			}).(client.KickedEvent)
			Expect(kicked.Reason).To(Equal("signed in elsewhere"))

			// A kick abandons the session and stops the poll loop
			Eventually(c.State).Should(Equal(client.StateIdle))
			Expect(tr.requestCount("channel/poll2")).To(Equal(1))
		})
	})

	Describe("messaging", func() {
		It("refuses to send before the session is established", func() {
			err := c.SendBuddy("777", "too early")
			Expect(err).To(MatchError(client.ErrNotEstablished))
			Expect(tr.requestCount("send_buddy_msg2")).To(BeZero())
		})

		It("sends a buddy message with a local echo", func() {
			establish()
			tr.stub("send_buddy_msg2", `{"retcode":0,"result":"ok"}`)

			Expect(c.SendBuddy("777", "hi there")).To(Succeed())

			Eventually(func() int { return tr.requestCount("send_buddy_msg2") }).Should(Equal(1))
			Expect(tr.lastBody("send_buddy_msg2")).To(HavePrefix("r=%7B"))

			peer, _ := dir.ResolvePeer(storage.PeerKey{GroupID: storage.NoGroup, UserID: "777"})
			Expect(peer.Messages).To(HaveLen(1))
			Expect(peer.Messages[0].Kind).To(Equal(storage.KindOutgoing))
			Expect(peer.Messages[0].Content).To(Equal("hi there"))
		})

		It("refuses a session message without a cached signature", func() {
			establish()
			dir.UpsertPeer(storage.Peer{Key: storage.PeerKey{GroupID: 42, UserID: "999"}})

			err := c.SendSession(42, "999", "psst")
			Expect(err).To(MatchError(client.ErrNoGroupSignature))
			Expect(tr.requestCount("send_sess_msg2")).To(BeZero())
		})

		It("sends a session message once the signature is cached", func() {
			establish()
			tr.stub("send_sess_msg2", `{"retcode":0,"result":"ok"}`)

			key := storage.PeerKey{GroupID: 42, UserID: "999"}
			dir.UpsertPeer(storage.Peer{Key: key})
			dir.CacheSignature(key, "SIG")

			Expect(c.SendSession(42, "999", "psst")).To(Succeed())

			Eventually(func() int { return tr.requestCount("send_sess_msg2") }).Should(Equal(1))

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Messages).To(HaveLen(1))
			Expect(peer.Messages[0].Kind).To(Equal(storage.KindOutgoing))
		})

		It("refuses to send to a group it does not know", func() {
			establish()

			err := c.SendGroup(4343, "anyone here")
			Expect(err).To(MatchError(client.ErrUnknownGroup))
		})

		It("sends a group message", func() {
			establish()
			tr.stub("send_qun_msg2", `{"retcode":0,"result":"ok"}`)

			Expect(c.SendGroup(42, "hello all")).To(Succeed())

			Eventually(func() int { return tr.requestCount("send_qun_msg2") }).Should(Equal(1))

			group, _ := dir.Group(42)
			Expect(group.Messages).To(HaveLen(1))
			Expect(group.Messages[0].Content).To(Equal("hello all"))
		})
	})
})
