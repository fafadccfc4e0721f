package storage_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chirp/storage"
)

var _ = Describe("storage / InmemoryDirectory", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			Expect(func() { dir.Close() }).NotTo(Panic())
			Expect(func() { dir.Close() }).NotTo(Panic())
		})
	})

	Describe("ResolvePeer()", func() {
		It("misses on an empty directory", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			_, ok := dir.ResolvePeer(storage.PeerKey{storage.NoGroup, "1000"})
			Expect(ok).To(BeFalse())
		})

		It("prefers the direct-contact record over a group context", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			dir.UpsertPeer(storage.Peer{
				Key:      storage.PeerKey{storage.NoGroup, "1000"},
				Nickname: "friend",
			})
			dir.UpsertPeer(storage.Peer{
				Key:      storage.PeerKey{77, "1000"},
				Nickname: "member",
			})

			peer, ok := dir.ResolvePeer(storage.PeerKey{77, "1000"})
			Expect(ok).To(BeTrue())
			Expect(peer.Nickname).To(Equal("friend"))
		})

		It("finds group-scoped records when no direct contact exists", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			dir.UpsertPeer(storage.Peer{
				Key:      storage.PeerKey{77, "2000"},
				Nickname: "member",
			})

			peer, ok := dir.ResolvePeer(storage.PeerKey{77, "2000"})
			Expect(ok).To(BeTrue())
			Expect(peer.Nickname).To(Equal("member"))
		})
	})

	Describe("UpsertPeer()", func() {
		It("updates profile fields without losing messages or the signature", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			key := storage.PeerKey{77, "2000"}
			dir.UpsertPeer(storage.Peer{Key: key, Nickname: "old"})
			dir.CacheSignature(key, "sig-1")
			dir.AttachMessage(key, storage.Message{Content: "hi"})

			dir.UpsertPeer(storage.Peer{Key: key, Nickname: "new"})

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Nickname).To(Equal("new"))
			Expect(peer.Signature).To(Equal("sig-1"))
			Expect(peer.Messages).To(HaveLen(1))
		})

		It("keeps presence through a nickname-only upsert", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			key := storage.PeerKey{77, "2000"}
			dir.UpsertPeer(storage.Peer{Key: key})
			dir.SetStatus(key, storage.StatusBusy, 1)

			dir.UpsertPeer(storage.Peer{Key: key, Nickname: "stranger"})

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Nickname).To(Equal("stranger"))
			Expect(peer.Status).To(Equal(storage.StatusBusy))
			Expect(peer.ClientType).To(Equal(1))
		})
	})

	Describe("messages", func() {
		It("refuses to attach to an unknown peer", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			ok := dir.AttachMessage(storage.PeerKey{storage.NoGroup, "nobody"}, storage.Message{})
			Expect(ok).To(BeFalse())
		})

		It("buffers orphans until the peer exists", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			dir.BufferOrphanMessage(storage.Message{SourceID: "3000", Content: "first"})
			dir.BufferOrphanMessage(storage.Message{SourceID: "3000", Content: "second"})

			key := storage.PeerKey{77, "3000"}
			Expect(dir.AdoptOrphans(key)).To(Equal(0))

			dir.UpsertPeer(storage.Peer{Key: key})
			Expect(dir.AdoptOrphans(key)).To(Equal(2))
			// A second adopt is a no-op
			Expect(dir.AdoptOrphans(key)).To(Equal(0))

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Messages).To(HaveLen(2))
			Expect(peer.Messages[0].Content).To(Equal("first"))
		})
	})

	Describe("status and typing", func() {
		It("updates presence and clears the typing flag independently", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			key := storage.PeerKey{storage.NoGroup, "1000"}
			dir.UpsertPeer(storage.Peer{Key: key})

			dir.SetTyping(key, true)
			dir.SetStatus(key, storage.StatusOnline, 1)

			peer, _ := dir.ResolvePeer(key)
			Expect(peer.Typing).To(BeTrue())
			Expect(peer.Status).To(Equal(storage.StatusOnline))
			Expect(peer.ClientType).To(Equal(1))

			dir.SetTyping(key, false)
			peer, _ = dir.ResolvePeer(key)
			Expect(peer.Typing).To(BeFalse())
		})
	})

	Describe("groups", func() {
		It("finds groups by id and by code", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			dir.UpsertGroup(storage.Group{ID: 77, Code: 990077, Name: "ops"})

			byID, ok := dir.Group(77)
			Expect(ok).To(BeTrue())
			Expect(byID.Name).To(Equal("ops"))

			byCode, ok := dir.GroupByCode(990077)
			Expect(ok).To(BeTrue())
			Expect(byCode.ID).To(Equal(uint64(77)))
		})

		It("attaches group messages", func() {
			dir := storage.NewInmemoryDirectory()
			defer dir.Close()

			Expect(dir.AttachGroupMessage(77, storage.Message{})).To(BeFalse())

			dir.UpsertGroup(storage.Group{ID: 77})
			Expect(dir.AttachGroupMessage(77, storage.Message{Content: "hi all"})).To(BeTrue())

			group, _ := dir.Group(77)
			Expect(group.Messages).To(HaveLen(1))
		})
	})
})

var _ = Describe("ParseStatus()", func() {
	It("maps the server vocabulary", func() {
		Expect(storage.ParseStatus("online")).To(Equal(storage.StatusOnline))
		Expect(storage.ParseStatus("away")).To(Equal(storage.StatusAway))
		Expect(storage.ParseStatus("busy")).To(Equal(storage.StatusBusy))
		Expect(storage.ParseStatus("hidden")).To(Equal(storage.StatusInvisible))
		Expect(storage.ParseStatus("offline")).To(Equal(storage.StatusOffline))
		Expect(storage.ParseStatus("whatever")).To(Equal(storage.StatusOffline))
	})
})
