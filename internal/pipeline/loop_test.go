package pipeline

import (
	"errors"
	"sort"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/papermes/scanner/internal/detect"
	"github.com/papermes/scanner/internal/ledger"
	"github.com/papermes/scanner/internal/media"
	"github.com/papermes/scanner/internal/observability"
)

// mockDB is an in-memory implementation of ledger.DB
type mockDB struct {
	records    map[string]*ledger.Record
	checkpoint time.Time
}

func newMockDB() *mockDB {
	return &mockDB{records: make(map[string]*ledger.Record)}
}

func (m *mockDB) SaveRecord(record *ledger.Record) error {
	saved := *record
	m.records[record.ID] = &saved
	return nil
}

func (m *mockDB) GetRecord(id string) (*ledger.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copy := *record
	return &copy, nil
}

func (m *mockDB) HasRecord(id string) (bool, error) {
	_, ok := m.records[id]
	return ok, nil
}

func (m *mockDB) listWhere(match func(*ledger.Record) bool) ([]*ledger.Record, error) {
	records := make([]*ledger.Record, 0)
	for _, record := range m.records {
		if match(record) {
			copy := *record
			records = append(records, &copy)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (m *mockDB) ListRecords() ([]*ledger.Record, error) {
	return m.listWhere(func(*ledger.Record) bool { return true })
}

func (m *mockDB) ListUnprocessed() ([]*ledger.Record, error) {
	return m.listWhere(func(r *ledger.Record) bool { return !r.Processed })
}

func (m *mockDB) ListPendingUpload() ([]*ledger.Record, error) {
	return m.listWhere(func(r *ledger.Record) bool { return r.Processed && r.IsDocument && !r.Sent })
}

func (m *mockDB) DeleteRecord(id string) error {
	delete(m.records, id)
	return nil
}

func (m *mockDB) DeleteOlderThan(cutoff time.Time) (int, error) {
	deleted := 0
	for id, record := range m.records {
		if record.DateAdded.Before(cutoff) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockDB) Checkpoint() (time.Time, error) {
	return m.checkpoint, nil
}

func (m *mockDB) SetCheckpoint(t time.Time) error {
	m.checkpoint = t
	return nil
}

func (m *mockDB) Close() error { return nil }

// mockSource is a mock implementation of Source
type mockSource struct {
	images      []media.ImageInfo
	available   bool
	listCalls   int
	lastSince   time.Time
	panicOnList bool
}

func (m *mockSource) ListNewImages(since time.Time) []media.ImageInfo {
	if m.panicOnList {
		panic("media source exploded")
	}
	m.listCalls++
	m.lastSince = since
	return m.images
}

func (m *mockSource) Available() bool { return m.available }

// mockDetector is a mock implementation of Detector
type mockDetector struct {
	verdicts map[string]detect.Classification
	onDetect func(path string)
	panics   bool
}

func (m *mockDetector) Detect(path string) detect.Classification {
	if m.onDetect != nil {
		m.onDetect(path)
	}
	if m.panics {
		panic("detector exploded")
	}
	return m.verdicts[path]
}

// mockUploader is a mock implementation of DocumentUploader
type mockUploader struct {
	err      error
	uploaded []string
}

func (m *mockUploader) Upload(record *ledger.Record) error {
	m.uploaded = append(m.uploaded, record.ID)
	return m.err
}

// mockGate is a mock implementation of Gate
type mockGate struct {
	open bool
}

func (m *mockGate) Allow() bool { return m.open }

// fixedTimeSource returns a constant time
type fixedTimeSource struct {
	now time.Time
}

func (f *fixedTimeSource) Now() time.Time { return f.now }

var _ = Describe("Loop", func() {
	var (
		db       *mockDB
		source   *mockSource
		detector *mockDetector
		uploader *mockUploader
		gate     *mockGate
		clock    *fixedTimeSource
		loop     *Loop
		cycleErr error
	)

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	newImage := func(id string, added time.Time) media.ImageInfo {
		return media.ImageInfo{
			ID:           id,
			Path:         "/photos/" + id + ".jpg",
			Filename:     id + ".jpg",
			MimeType:     "image/jpeg",
			Size:         1000,
			DateAdded:    added,
			DateModified: added,
		}
	}

	newPipelineMetrics := func() *observability.PipelineMetrics {
		metrics, err := observability.NewPipelineMetrics(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())
		return metrics
	}

	BeforeEach(func() {
		db = newMockDB()
		source = &mockSource{available: true}
		detector = &mockDetector{verdicts: make(map[string]detect.Classification)}
		uploader = &mockUploader{}
		gate = &mockGate{open: true}
		clock = &fixedTimeSource{now: now}
		loop = NewLoopWithDeps(db, source, detector, uploader, gate, newPipelineMetrics(), Config{}, clock)
	})

	JustBeforeEach(func() {
		cycleErr = loop.RunCycle()
	})

	When("the media source reports new images", func() {
		BeforeEach(func() {
			db.checkpoint = now.Add(-time.Hour)
			source.images = []media.ImageInfo{
				newImage("img-1", now.Add(-time.Minute)),
				newImage("img-2", now.Add(-2*time.Minute)),
			}
		})

		It("should persist them as unprocessed records", func() {
			Expect(cycleErr).NotTo(HaveOccurred())
			record, err := db.GetRecord("img-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Processed).To(BeTrue()) // processed in the same cycle
		})

		It("should query from the stored checkpoint", func() {
			Expect(source.lastSince).To(Equal(now.Add(-time.Hour)))
		})

		It("should advance the checkpoint to now", func() {
			Expect(db.checkpoint).To(Equal(now))
		})
	})

	When("the media source finds nothing", func() {
		BeforeEach(func() {
			db.checkpoint = now.Add(-time.Hour)
		})

		It("should still advance the checkpoint", func() {
			Expect(cycleErr).NotTo(HaveOccurred())
			Expect(db.checkpoint).To(Equal(now))
		})
	})

	When("an image was already recorded", func() {
		BeforeEach(func() {
			existing := &ledger.Record{ID: "img-1", Path: "/photos/img-1.jpg", Processed: true, IsDocument: true, Confidence: 0.9, DateAdded: now}
			Expect(db.SaveRecord(existing)).To(Succeed())
			source.images = []media.ImageInfo{newImage("img-1", now)}
		})

		It("should not clobber its classification", func() {
			record, err := db.GetRecord("img-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.IsDocument).To(BeTrue())
			Expect(record.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		})
	})

	When("processing classifies a document", func() {
		BeforeEach(func() {
			source.images = []media.ImageInfo{newImage("img-1", now)}
			detector.verdicts["/photos/img-1.jpg"] = detect.Classification{IsDocument: true, Confidence: 0.8}
		})

		It("should persist the verdict and upload it in the same cycle", func() {
			record, err := db.GetRecord("img-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Processed).To(BeTrue())
			Expect(record.IsDocument).To(BeTrue())
			Expect(record.Sent).To(BeTrue())
			Expect(uploader.uploaded).To(ConsistOf("img-1"))
		})
	})

	When("the detector panics on a record", func() {
		BeforeEach(func() {
			source.images = []media.ImageInfo{newImage("img-1", now)}
			detector.panics = true
		})

		It("should still mark the record processed with a negative verdict", func() {
			Expect(cycleErr).NotTo(HaveOccurred())
			record, err := db.GetRecord("img-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Processed).To(BeTrue())
			Expect(record.IsDocument).To(BeFalse())
			Expect(record.Confidence).To(BeZero())
		})
	})

	When("an upload fails", func() {
		BeforeEach(func() {
			pending := &ledger.Record{ID: "img-1", Path: "/photos/img-1.jpg", Filename: "img-1.jpg", Processed: true, IsDocument: true, DateAdded: now}
			Expect(db.SaveRecord(pending)).To(Succeed())
			uploader.err = errors.New("upload failed (status 500): server error")
		})

		It("should increment the retry count and keep the record pending", func() {
			record, err := db.GetRecord("img-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Sent).To(BeFalse())
			Expect(record.RetryCount).To(Equal(1))
			Expect(record.LastError).To(ContainSubstring("500"))
			Expect(record.LastRetryAt).NotTo(BeNil())
			Expect(*record.LastRetryAt).To(Equal(now))
		})

		It("should attempt the record only once in the cycle", func() {
			Expect(uploader.uploaded).To(HaveLen(1))
		})
	})

	When("a record was already sent", func() {
		BeforeEach(func() {
			sent := &ledger.Record{ID: "img-1", Processed: true, IsDocument: true, Sent: true, DateAdded: now}
			Expect(db.SaveRecord(sent)).To(Succeed())
		})

		It("should never re-submit it", func() {
			Expect(uploader.uploaded).To(BeEmpty())
		})
	})

	When("a record reached the retry limit", func() {
		BeforeEach(func() {
			exhausted := &ledger.Record{ID: "img-1", Processed: true, IsDocument: true, RetryCount: 10, DateAdded: now}
			Expect(db.SaveRecord(exhausted)).To(Succeed())
		})

		It("should skip it", func() {
			Expect(uploader.uploaded).To(BeEmpty())
		})
	})

	When("the network gate is closed", func() {
		BeforeEach(func() {
			gate.open = false
			pending := &ledger.Record{ID: "img-1", Processed: true, IsDocument: true, DateAdded: now}
			Expect(db.SaveRecord(pending)).To(Succeed())
		})

		It("should skip the upload phase entirely", func() {
			Expect(uploader.uploaded).To(BeEmpty())
		})

		It("should still run cleanup", func() {
			old := &ledger.Record{ID: "img-old", DateAdded: now.Add(-31 * 24 * time.Hour)}
			Expect(db.SaveRecord(old)).To(Succeed())
			Expect(loop.RunCycle()).To(Succeed())
			_, err := db.GetRecord("img-old")
			Expect(err).To(HaveOccurred())
		})
	})

	When("records age past the retention window", func() {
		BeforeEach(func() {
			old := &ledger.Record{ID: "img-old", Processed: true, Sent: true, DateAdded: now.Add(-31 * 24 * time.Hour)}
			fresh := &ledger.Record{ID: "img-fresh", Processed: true, DateAdded: now.Add(-29 * 24 * time.Hour)}
			Expect(db.SaveRecord(old)).To(Succeed())
			Expect(db.SaveRecord(fresh)).To(Succeed())
		})

		It("should remove only the expired records", func() {
			_, err := db.GetRecord("img-old")
			Expect(err).To(HaveOccurred())
			_, err = db.GetRecord("img-fresh")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the media source is unavailable", func() {
		BeforeEach(func() {
			db.checkpoint = now.Add(-time.Hour)
			source.available = false
		})

		It("should skip the cycle without error", func() {
			Expect(cycleErr).NotTo(HaveOccurred())
			Expect(source.listCalls).To(BeZero())
		})

		It("should not advance the checkpoint", func() {
			Expect(db.checkpoint).To(Equal(now.Add(-time.Hour)))
		})
	})

	When("a cycle is already in progress", func() {
		BeforeEach(func() {
			source.images = []media.ImageInfo{newImage("img-1", now)}
			detector.onDetect = func(string) {
				// A trigger firing mid-cycle must be a no-op
				Expect(loop.RunCycle()).To(Succeed())
			}
		})

		It("should treat the re-entrant trigger as a no-op", func() {
			Expect(cycleErr).NotTo(HaveOccurred())
			Expect(source.listCalls).To(Equal(1))
		})
	})

	When("a phase panics outside the detector", func() {
		BeforeEach(func() {
			source.panicOnList = true
		})

		It("should surface the fault as a cycle error", func() {
			Expect(cycleErr).To(HaveOccurred())
			Expect(cycleErr.Error()).To(ContainSubstring("panic"))
		})

		It("should leave the loop runnable", func() {
			source.panicOnList = false
			Expect(loop.RunCycle()).To(Succeed())
		})
	})

	Describe("State", func() {
		It("should report idle between cycles", func() {
			Expect(loop.State()).To(Equal(StateIdle))
		})
	})
})
