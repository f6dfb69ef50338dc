package chatcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/server"
)

// fakeAssistant answers /text-assist from a script and records requests.
type fakeAssistant struct {
	mu       sync.Mutex
	replies  []server.AssistResponse
	requests []server.TextAssistRequest
	resets   []string
}

func (f *fakeAssistant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/text-assist":
		var req server.TextAssistRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.requests = append(f.requests, req)
		if len(f.replies) == 0 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"processing failed: upstream down"}`))
			return
		}
		reply := f.replies[0]
		f.replies = f.replies[1:]
		reply.ConversationID = req.ConversationID
		_ = json.NewEncoder(w).Encode(reply)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/conversations/"):
		f.resets = append(f.resets, strings.TrimPrefix(r.URL.Path, "/conversations/"))
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var _ = Describe("Chat Command", func() {
	var (
		assistant *fakeAssistant
		upstream  *httptest.Server
	)

	BeforeEach(func() {
		assistant = &fakeAssistant{}
		upstream = httptest.NewServer(assistant)
	})

	AfterEach(func() {
		upstream.Close()
	})

	Describe("line mode", func() {
		It("sends each line and prints the replies", func() {
			assistant.replies = []server.AssistResponse{
				{ReplyText: "What is the amount?", ReplyKind: conversation.KindFollowUp},
				{ReplyText: "Invoice created.", DetailedResponse: "Invoice created.\nTotal: $50", ReplyKind: conversation.KindFinal},
			}

			var out bytes.Buffer
			cmd := NewChatCmd()
			cmd.SetIn(strings.NewReader("Create an invoice for Harry\n\n$50\n/reset\n/quit\nignored\n"))
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"--server", upstream.URL, "--conversation", "c1", "--language", "es"})

			Expect(cmd.ExecuteContext(context.Background())).To(Succeed())

			Expect(out.String()).To(ContainSubstring("assistant: What is the amount?"))
			Expect(out.String()).To(ContainSubstring("Total: $50"))
			Expect(out.String()).To(ContainSubstring("conversation reset"))

			Expect(assistant.requests).To(HaveLen(2))
			Expect(assistant.requests[0]).To(Equal(server.TextAssistRequest{
				ConversationID: "c1",
				UserInputText:  "Create an invoice for Harry",
				LanguageCode:   "es",
			}))
			Expect(assistant.resets).To(Equal([]string{"c1"}))
		})

		It("generates a conversation id", func() {
			assistant.replies = []server.AssistResponse{{ReplyText: "Done.", ReplyKind: conversation.KindFinal, DetailedResponse: "Done."}}

			var out bytes.Buffer
			cmd := NewChatCmd()
			cmd.SetIn(strings.NewReader("Remind me at 9am\n"))
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"--server", upstream.URL})

			Expect(cmd.ExecuteContext(context.Background())).To(Succeed())
			Expect(assistant.requests).To(HaveLen(1))
			Expect(assistant.requests[0].ConversationID).To(HaveLen(36))
		})

		It("returns server errors", func() {
			cmd := NewChatCmd()
			cmd.SetIn(strings.NewReader("hello\n"))
			cmd.SetOut(&bytes.Buffer{})
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			cmd.SetArgs([]string{"--server", upstream.URL})

			Expect(cmd.ExecuteContext(context.Background())).To(MatchError(ContainSubstring("processing failed: upstream down")))
		})
	})

	Describe("terminal model", func() {
		var m model

		update := func(msg tea.Msg) tea.Cmd {
			next, cmd := m.Update(msg)
			m = next.(model)
			return cmd
		}

		BeforeEach(func() {
			m = newModel(context.Background(), newSession(upstream.URL, "c1", "en"))
			update(tea.WindowSizeMsg{Width: 100, Height: 30})
		})

		It("asks the server on enter and shows the reply", func() {
			assistant.replies = []server.AssistResponse{{ReplyText: "What is the amount?", ReplyKind: conversation.KindFollowUp}}

			m.input.SetValue("Create an invoice")
			cmd := update(tea.KeyMsg{Type: tea.KeyEnter})
			Expect(cmd).NotTo(BeNil())
			Expect(m.waiting).To(BeTrue())
			Expect(m.input.Value()).To(BeEmpty())
			Expect(m.View()).To(ContainSubstring("Create an invoice"))

			reply := m.ask("Create an invoice")()
			Expect(reply).To(BeAssignableToTypeOf(replyMsg{}))
			update(reply)

			Expect(m.waiting).To(BeFalse())
			Expect(m.View()).To(ContainSubstring("What is the amount?"))
		})

		It("renders finalized tasks as markdown", func() {
			update(replyMsg{resp: &server.AssistResponse{
				ReplyText:        "Invoice created.",
				DetailedResponse: "Invoice created.\n\n**Total:** $50",
				ReplyKind:        conversation.KindFinal,
			}})
			Expect(m.View()).To(ContainSubstring("Total"))
			Expect(m.View()).NotTo(ContainSubstring("**"))
		})

		It("shows errors without quitting", func() {
			cmd := update(replyMsg{err: context.DeadlineExceeded})
			Expect(cmd).To(BeNil())
			Expect(m.View()).To(ContainSubstring("error: context deadline exceeded"))
		})

		It("ignores empty input", func() {
			cmd := update(tea.KeyMsg{Type: tea.KeyEnter})
			Expect(cmd).To(BeNil())
			Expect(m.waiting).To(BeFalse())
		})

		It("quits on escape", func() {
			cmd := update(tea.KeyMsg{Type: tea.KeyEsc})
			Expect(cmd()).To(Equal(tea.Quit()))
		})
	})
})
