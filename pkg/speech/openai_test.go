package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/speech"
)

var _ = Describe("VoiceSelector", func() {
	selector := speech.VoiceSelector{Voices: speech.DefaultVoices()}

	DescribeTable("picks voices by language",
		func(language, voice string) {
			Expect(selector.VoiceFor(language)).To(Equal(voice))
		},
		Entry("english", "en", "nova"),
		Entry("spanish", "es", "onyx"),
		Entry("regional subtag", "es-MX", "onyx"),
		Entry("upper case", "ES", "onyx"),
		Entry("unmapped", "fr", "nova"),
		Entry("empty", "", "nova"),
	)

	It("uses the configured fallback", func() {
		custom := speech.VoiceSelector{Voices: map[string]string{}, Fallback: "alloy"}
		Expect(custom.VoiceFor("de")).To(Equal("alloy"))
	})
})

var _ = Describe("OpenAI", func() {
	var (
		ctx      context.Context
		upstream *httptest.Server
		handler  http.HandlerFunc
		client   *speech.OpenAI
	)

	BeforeEach(func() {
		ctx = context.Background()
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		client = speech.NewOpenAI(speech.OpenAIConfig{
			BaseURL: upstream.URL,
			APIKey:  "sk-test",
		}, zap.NewNop())
	})

	AfterEach(func() {
		upstream.Close()
	})

	Describe("Transcribe", func() {
		It("uploads the recording and decodes word timestamps", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/v1/audio/transcriptions"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer sk-test"))
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("model")).To(Equal("whisper-1"))
				Expect(r.FormValue("response_format")).To(Equal("verbose_json"))
				Expect(r.FormValue("timestamp_granularities[]")).To(Equal("word"))
				Expect(r.FormValue("language")).To(Equal("es"))

				file, header, err := r.FormFile("file")
				Expect(err).NotTo(HaveOccurred())
				data, _ := io.ReadAll(file)
				Expect(string(data)).To(Equal("RIFF"))
				Expect(header.Filename).To(Equal("note.wav"))

				_ = json.NewEncoder(w).Encode(map[string]any{
					"text":     " Hola, soy Harry. ",
					"task":     "transcribe",
					"language": "spanish",
					"duration": 1.5,
					"words": []map[string]any{
						{"word": "Hola", "start": 0.0, "end": 0.4},
						{"word": "soy", "start": 0.5, "end": 0.7},
					},
				})
			}

			got, err := client.Transcribe(ctx, speech.Audio{Data: []byte("RIFF"), Filename: "note.wav", ContentType: "audio/wav"}, "es-MX")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("Hola, soy Harry."))
			Expect(got.Language).To(Equal("spanish"))
			Expect(got.Duration).To(Equal(1.5))
			Expect(got.Words).To(Equal([]speech.Word{
				{Word: "Hola", Start: 0, End: 0.4},
				{Word: "soy", Start: 0.5, End: 0.7},
			}))
		})

		It("omits the language hint when none is given", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.MultipartForm.Value).NotTo(HaveKey("language"))
				_, _ = w.Write([]byte(`{"text":"hello"}`))
			}

			got, err := client.Transcribe(ctx, speech.Audio{Data: []byte("RIFF")}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Words).NotTo(BeNil())
		})

		It("rejects empty audio without calling the API", func() {
			handler = func(http.ResponseWriter, *http.Request) {
				defer GinkgoRecover()
				Fail("unexpected upstream call")
			}

			_, err := client.Transcribe(ctx, speech.Audio{}, "en")
			Expect(err).To(BeAssignableToTypeOf(&speech.Error{}))
		})

		It("surfaces API errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
			}

			_, err := client.Transcribe(ctx, speech.Audio{Data: []byte("RIFF")}, "en")

			var speechErr *speech.Error
			Expect(errors.As(err, &speechErr)).To(BeTrue())
			Expect(speechErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(speechErr.Error()).To(ContainSubstring("Incorrect API key provided"))
		})
	})

	Describe("Synthesize", func() {
		var received map[string]string

		BeforeEach(func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/v1/audio/speech"))
				Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
				w.Header().Set("Content-Type", "audio/mpeg")
				_, _ = w.Write([]byte("ID3-mp3-bytes"))
			}
		})

		It("returns mp3 audio in the language's voice", func() {
			got, err := client.Synthesize(ctx, "¿Cuál es el monto?", "es")
			Expect(err).NotTo(HaveOccurred())

			Expect(got.Data).To(Equal([]byte("ID3-mp3-bytes")))
			Expect(got.Format).To(Equal("mp3"))
			Expect(got.ContentType).To(Equal("audio/mpeg"))
			Expect(got.Voice).To(Equal("onyx"))
			Expect(received).To(HaveKeyWithValue("model", "tts-1"))
			Expect(received).To(HaveKeyWithValue("voice", "onyx"))
			Expect(received).To(HaveKeyWithValue("input", "¿Cuál es el monto?"))
		})

		It("streams audio", func() {
			stream, err := client.SynthesizeStream(ctx, "What is the amount?", "en")
			Expect(err).NotTo(HaveOccurred())
			defer stream.Close()

			data, err := io.ReadAll(stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("ID3-mp3-bytes"))
			Expect(received).To(HaveKeyWithValue("voice", "nova"))
		})

		It("rejects empty text", func() {
			_, err := client.Synthesize(ctx, "  ", "en")
			Expect(err).To(BeAssignableToTypeOf(&speech.Error{}))
		})

		It("surfaces API errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			}

			_, err := client.SynthesizeStream(ctx, "hello", "en")

			var speechErr *speech.Error
			Expect(errors.As(err, &speechErr)).To(BeTrue())
			Expect(speechErr.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(err.Error()).To(ContainSubstring("quota exceeded"))
		})
	})
})
