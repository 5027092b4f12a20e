package recognize

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Tesseract", func() {
	var (
		server     *ghttp.Server
		recognizer *Tesseract
		result     *Result
		err        error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		recognizer, err = NewTesseract(server.URL(), "eng")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result, err = recognizer.RecognizeText([]byte("fake-png-bytes"))
	})

	When("the server returns recognized text", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/tesseract"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(r.Header.Get("Content-Type")).To(HavePrefix("multipart/form-data"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"data": map[string]any{
						"stdout":   "RECEIPT\nTOTAL 9.99\n",
						"stderr":   "",
						"exitCode": 0,
					},
				}),
			))
		})

		It("should return the recognized text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("RECEIPT\nTOTAL 9.99"))
			Expect(result.Regions).To(Equal(2))
		})
	})

	When("the server reports a tesseract failure", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"data": map[string]any{
					"stdout":   "",
					"stderr":   "could not read image",
					"exitCode": 1,
				},
			}))
		})

		It("should return an error with the stderr output", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("could not read image"))
			Expect(result).To(BeNil())
		})
	})

	When("the server returns a non-200 status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
		})

		It("should return an error with the status code", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 500"))
		})
	})
})
