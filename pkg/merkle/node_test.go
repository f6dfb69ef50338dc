package merkle_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/taskvox/pkg/merkle"
)

func conversationRoot(id string) *merkle.Node {
	return merkle.NewNode(map[string]any{"type": "conversation", "conversation_id": id}, nil)
}

func message(role, content string, parent *merkle.Node) *merkle.Node {
	return merkle.NewNode(map[string]any{"type": "message", "role": role, "content": content}, parent)
}

var _ = Describe("Node", func() {
	Describe("conversation roots", func() {
		It("are parentless and keyed by conversation id", func() {
			root := conversationRoot("c1")

			Expect(root.ParentHash).To(BeNil())
			Expect(root.Hash).To(Equal(conversationRoot("c1").Hash))
			Expect(root.Hash).NotTo(Equal(conversationRoot("c2").Hash))
		})

		It("produce a SHA-256 hex hash", func() {
			Expect(conversationRoot("c1").Hash).To(MatchRegexp("^[a-f0-9]{64}$"))
		})
	})

	Describe("message nodes", func() {
		var root *merkle.Node

		BeforeEach(func() {
			root = conversationRoot("c1")
		})

		It("link to the previous message", func() {
			system := message("system", "You are a friendly assistant.", root)
			user := message("user", "I want to send an invoice", system)

			Expect(*system.ParentHash).To(Equal(root.Hash))
			Expect(*user.ParentHash).To(Equal(system.Hash))
		})

		It("share nodes across transcripts with a common prefix", func() {
			system := message("system", "You are a friendly assistant.", root)
			first := message("user", "I want to send an invoice", system)
			again := message("user", "I want to send an invoice", message("system", "You are a friendly assistant.", root))

			Expect(again.Hash).To(Equal(first.Hash))
		})

		It("distinguish roles with the same text", func() {
			Expect(message("user", "What is the amount?", root).Hash).
				NotTo(Equal(message("assistant", "What is the amount?", root).Hash))
		})

		It("distinguish the same message in different conversations", func() {
			Expect(message("user", "$500", conversationRoot("c1")).Hash).
				NotTo(Equal(message("user", "$500", conversationRoot("c2")).Hash))
		})

		It("diverge once a turn differs", func() {
			system := message("system", "You are a friendly assistant.", root)
			invoice := message("user", "Invoice Harry", system)
			email := message("user", "Email Harry", system)

			Expect(message("assistant", "What is the amount?", invoice).Hash).
				NotTo(Equal(message("assistant", "What is the amount?", email).Hash))
		})
	})

	Describe("Verify", func() {
		It("accepts untouched nodes", func() {
			Expect(message("user", "Who is it for?", conversationRoot("c1")).Verify()).To(BeTrue())
		})

		It("rejects edited content", func() {
			node := message("user", "Pay $5", conversationRoot("c1"))
			node.Content = map[string]any{"type": "message", "role": "user", "content": "Pay $5000"}

			Expect(node.Verify()).To(BeFalse())
		})

		It("rejects a moved node", func() {
			node := message("user", "Pay $5", conversationRoot("c1"))
			other := conversationRoot("c2").Hash
			node.ParentHash = &other

			Expect(node.Verify()).To(BeFalse())
		})

		It("holds after a round trip through sqlite", func() {
			storer, err := merkle.NewSQLiteStorer(filepath.Join(GinkgoT().TempDir(), "transcripts.db"))
			Expect(err).NotTo(HaveOccurred())
			defer storer.Close()

			root := conversationRoot("c1")
			node := message("assistant", "Invoice created for Harry.\nAmount: $500", root)
			Expect(storer.Put(context.Background(), root)).To(Succeed())
			Expect(storer.Put(context.Background(), node)).To(Succeed())

			got, err := storer.Get(context.Background(), node.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Verify()).To(BeTrue())
		})
	})
})
