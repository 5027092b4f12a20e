package detect

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papermes/scanner/internal/recognize"
)

// mockRecognizer is a mock implementation of recognize.Recognizer
type mockRecognizer struct {
	result *recognize.Result
	err    error
}

func (m *mockRecognizer) RecognizeText(pngData []byte) (*recognize.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRecognizer) Close() error {
	return nil
}

var _ = Describe("Detector", func() {
	var (
		tmpDir     string
		imagePath  string
		recognizer *mockRecognizer
		detector   *Detector
		verdict    Classification
	)

	writeSquarePNG := func(path string) {
		f, err := os.Create(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		Expect(png.Encode(f, image.NewRGBA(image.Rect(0, 0, 100, 100)))).To(Succeed())
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		imagePath = filepath.Join(tmpDir, "photo.png")
		writeSquarePNG(imagePath)
		recognizer = &mockRecognizer{}
		detector = NewDetector(recognizer, DefaultThreshold)
	})

	JustBeforeEach(func() {
		verdict = detector.Detect(imagePath)
	})

	When("the image is a dense document", func() {
		BeforeEach(func() {
			// Structured text (keyword + label-colon + digit runs), 120
			// chars, 6 regions; square raster adds 0.1
			recognizer.result = &recognize.Result{
				Text:       "INVOICE NO: 20240601\nTotal: 149.00",
				Regions:    6,
				Characters: 120,
			}
		})

		It("should classify it as a document", func() {
			Expect(verdict.IsDocument).To(BeTrue())
		})

		It("should report a high confidence", func() {
			// 0.3 text + 0.3 structured + 0.1 square + 0.2 regions
			Expect(verdict.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		})
	})

	When("the confidence lands exactly on the threshold with ten characters", func() {
		BeforeEach(func() {
			// 0 text + 0.3 structured + 0.1 square + 0.1 regions = 0.5
			recognizer.result = &recognize.Result{
				Text:       "Total: 123",
				Regions:    3,
				Characters: 10,
			}
		})

		It("should classify it as a document", func() {
			Expect(verdict.IsDocument).To(BeTrue())
			Expect(verdict.Confidence).To(BeNumerically("~", 0.5, 1e-9))
		})
	})

	When("the text is too short despite a passing confidence", func() {
		BeforeEach(func() {
			recognizer.result = &recognize.Result{
				Text:       "Total: 12",
				Regions:    3,
				Characters: 9,
			}
		})

		It("should not classify it as a document", func() {
			Expect(verdict.IsDocument).To(BeFalse())
		})
	})

	When("the confidence falls short of the threshold", func() {
		BeforeEach(func() {
			recognizer.result = &recognize.Result{
				Text:       "a quiet afternoon walk in the park",
				Regions:    1,
				Characters: 34,
			}
		})

		It("should not classify it as a document", func() {
			// 0.1 text + 0.1 square + 0.05 regions = 0.25
			Expect(verdict.IsDocument).To(BeFalse())
			Expect(verdict.Confidence).To(BeNumerically("~", 0.25, 1e-9))
		})
	})

	When("text recognition fails", func() {
		BeforeEach(func() {
			recognizer.err = errors.New("recognizer offline")
		})

		It("should return a terminal negative verdict", func() {
			Expect(verdict.IsDocument).To(BeFalse())
			Expect(verdict.Confidence).To(BeZero())
		})
	})

	When("the file cannot be read", func() {
		BeforeEach(func() {
			imagePath = filepath.Join(tmpDir, "missing.png")
		})

		It("should return a terminal negative verdict", func() {
			Expect(verdict.IsDocument).To(BeFalse())
			Expect(verdict.Confidence).To(BeZero())
		})
	})

	When("the file is not a decodable image", func() {
		BeforeEach(func() {
			imagePath = filepath.Join(tmpDir, "garbage.png")
			Expect(os.WriteFile(imagePath, []byte("not an image"), 0644)).To(Succeed())
		})

		It("should return a terminal negative verdict", func() {
			Expect(verdict.IsDocument).To(BeFalse())
			Expect(verdict.Confidence).To(BeZero())
		})
	})

	When("a custom threshold is configured", func() {
		BeforeEach(func() {
			detector = NewDetector(recognizer, 0.8)
			recognizer.result = &recognize.Result{
				Text:       "Total: 123",
				Regions:    3,
				Characters: 10,
			}
		})

		It("should gate on the configured value", func() {
			Expect(verdict.Confidence).To(BeNumerically("~", 0.5, 1e-9))
			Expect(verdict.IsDocument).To(BeFalse())
		})
	})
})
