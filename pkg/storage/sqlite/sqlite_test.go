package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/storage/sqlite"
)

var _ = Describe("Driver", func() {
	var (
		driver *sqlite.Driver
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		var err error
		driver, err = sqlite.NewDriver(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	It("creates the database file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "conversations.db")

		d, err := sqlite.NewDriver(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		_, err = os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns ErrNotFound for unknown conversations", func() {
		_, err := driver.Get(ctx, "missing")
		Expect(err).To(MatchError(conversation.ErrNotFound))
	})

	It("round-trips the full state", func() {
		state := conversation.NewState("c1", "system", now)
		state.Transcript = append(state.Transcript, llm.UserMessage("invoice"), llm.AssistantMessage("What is the amount?\nWho is it for?"))
		state.PendingQuestions = []string{"Who is it for?"}
		state.LastPrompted = "What is the amount?"
		state.LastIntent = "invoice"
		Expect(driver.Create(ctx, state)).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Transcript).To(Equal(state.Transcript))
		Expect(got.PendingQuestions).To(Equal(state.PendingQuestions))
		Expect(got.LastPrompted).To(Equal("What is the amount?"))
		Expect(got.LastIntent).To(Equal("invoice"))
		Expect(got.CreatedAt.Equal(now)).To(BeTrue())
	})

	It("refuses to create the same conversation twice", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(MatchError(conversation.ErrAlreadyExists))
	})

	It("upserts on update", func() {
		state := conversation.NewState("c1", "system", now)
		Expect(driver.Update(ctx, state)).To(Succeed())

		state.TaskFinalized = true
		state.UpdatedAt = now.Add(time.Minute)
		Expect(driver.Update(ctx, state)).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TaskFinalized).To(BeTrue())
	})

	It("keeps an empty pending list non-nil", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PendingQuestions).NotTo(BeNil())
	})

	It("deletes conversations", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())
		Expect(driver.Delete(ctx, "c1")).To(Succeed())
		Expect(driver.Delete(ctx, "c1")).To(Succeed())

		_, err := driver.Get(ctx, "c1")
		Expect(err).To(MatchError(conversation.ErrNotFound))
	})

	It("lists the most recently updated conversations first", func() {
		older := conversation.NewState("older", "system", now)
		newer := conversation.NewState("newer", "system", now)
		newer.UpdatedAt = now.Add(time.Hour)
		Expect(driver.Create(ctx, older)).To(Succeed())
		Expect(driver.Create(ctx, newer)).To(Succeed())

		Expect(driver.List(ctx)).To(Equal([]string{"newer", "older"}))
	})
})
