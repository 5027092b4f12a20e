// Package observability provides Prometheus metrics for the scanner daemon.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *PipelineMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
	}, nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

// metricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}

// PipelineMetrics contains all Prometheus metrics related to the scan
// pipeline.
type PipelineMetrics struct {
	CyclesTotal       prometheus.Counter
	CycleFaults       prometheus.Counter
	ImagesDiscovered  prometheus.Counter
	ImagesProcessed   prometheus.Counter
	DocumentsDetected prometheus.Counter
	UploadsSucceeded  prometheus.Counter
	UploadsFailed     prometheus.Counter
	RecordsCleaned    prometheus.Counter
	registry          *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics.
// It requires a Prometheus registry to register the metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for PipelineMetrics.
func (m *PipelineMetrics) initMetrics() {
	m.CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_cycles_total",
		Help: "Total number of scan cycles started",
	})

	m.CycleFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_cycle_faults_total",
		Help: "Total number of scan cycles that ended in an unexpected fault",
	})

	m.ImagesDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_images_discovered_total",
		Help: "Total number of new images discovered by the media source",
	})

	m.ImagesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_images_processed_total",
		Help: "Total number of images examined by the document detector",
	})

	m.DocumentsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_documents_detected_total",
		Help: "Total number of images classified as documents",
	})

	m.UploadsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_uploads_succeeded_total",
		Help: "Total number of documents delivered to the upload endpoint",
	})

	m.UploadsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_uploads_failed_total",
		Help: "Total number of upload attempts that failed",
	})

	m.RecordsCleaned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_records_cleaned_total",
		Help: "Total number of ledger records removed by retention cleanup",
	})
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CyclesTotal
	ch <- m.CycleFaults
	ch <- m.ImagesDiscovered
	ch <- m.ImagesProcessed
	ch <- m.DocumentsDetected
	ch <- m.UploadsSucceeded
	ch <- m.UploadsFailed
	ch <- m.RecordsCleaned
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CyclesTotal.Desc()
	ch <- m.CycleFaults.Desc()
	ch <- m.ImagesDiscovered.Desc()
	ch <- m.ImagesProcessed.Desc()
	ch <- m.DocumentsDetected.Desc()
	ch <- m.UploadsSucceeded.Desc()
	ch <- m.UploadsFailed.Desc()
	ch <- m.RecordsCleaned.Desc()
}
