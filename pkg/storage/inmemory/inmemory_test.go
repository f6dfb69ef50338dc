package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/storage/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		ctx = context.Background()
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	})

	It("returns ErrNotFound for unknown conversations", func() {
		_, err := driver.Get(ctx, "missing")
		Expect(err).To(MatchError(conversation.ErrNotFound))
	})

	It("stores and retrieves state", func() {
		state := conversation.NewState("c1", "system", now)
		Expect(driver.Create(ctx, state)).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal("c1"))
		Expect(got.Transcript).To(Equal([]llm.Message{llm.SystemMessage("system")}))
		Expect(got.PendingQuestions).To(BeEmpty())
	})

	It("refuses to create the same conversation twice", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())
		err := driver.Create(ctx, conversation.NewState("c1", "other", now))
		Expect(err).To(MatchError(conversation.ErrAlreadyExists))
	})

	It("hands out copies that do not alias stored state", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		got.Transcript = append(got.Transcript, llm.UserMessage("hi"))
		got.PendingQuestions = append(got.PendingQuestions, "Who?")

		again, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Transcript).To(HaveLen(1))
		Expect(again.PendingQuestions).To(BeEmpty())
	})

	It("replaces state on update", func() {
		state := conversation.NewState("c1", "system", now)
		Expect(driver.Create(ctx, state)).To(Succeed())

		state.TaskFinalized = true
		Expect(driver.Update(ctx, state)).To(Succeed())

		got, err := driver.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TaskFinalized).To(BeTrue())
	})

	It("deletes state and tolerates unknown ids", func() {
		Expect(driver.Create(ctx, conversation.NewState("c1", "system", now))).To(Succeed())
		Expect(driver.Delete(ctx, "c1")).To(Succeed())
		Expect(driver.Delete(ctx, "c1")).To(Succeed())
		Expect(driver.Len()).To(Equal(0))
	})

	It("works with GetOrCreate", func() {
		first, err := conversation.GetOrCreate(ctx, driver, "c1", "system", now)
		Expect(err).NotTo(HaveOccurred())

		first.Transcript = append(first.Transcript, llm.UserMessage("hello"))
		Expect(driver.Update(ctx, first)).To(Succeed())

		second, err := conversation.GetOrCreate(ctx, driver, "c1", "ignored", now.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Transcript).To(HaveLen(2))
		Expect(second.Transcript[0].Content).To(Equal("system"))
		Expect(second.CreatedAt).To(Equal(now))
	})
})
