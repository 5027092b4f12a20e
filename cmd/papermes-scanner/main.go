package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/papermes/scanner/internal/detect"
	"github.com/papermes/scanner/internal/ledger"
	"github.com/papermes/scanner/internal/media"
	"github.com/papermes/scanner/internal/observability"
	"github.com/papermes/scanner/internal/pipeline"
	"github.com/papermes/scanner/internal/recognize"
	"github.com/papermes/scanner/internal/status"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("papermes-scanner")
	fs.StringLong("config", "", "Config file path (YAML)")
	var (
		mediaDir       = fs.StringLong("media-dir", "", "Photo directory to watch (required)")
		dbPath         = fs.StringLong("db", "papermes-scanner.db", "Ledger database file path")
		endpoint       = fs.StringLong("endpoint", "http://localhost:8000", "Document upload endpoint URL")
		token          = fs.StringLong("token", "", "Bearer token for the upload endpoint (or set PAPERMES_TOKEN env var)")
		scratchDir     = fs.StringLong("scratch", "", "Scratch directory for upload copies (default: system temp)")
		recognizerType = fs.StringLong("recognizer", "tesseract", "Text recognizer: 'tesseract' or 'gemini'")
		tesseractURL   = fs.StringLong("tesseract-url", "http://localhost:8884", "tesseract-server base URL")
		tesseractLang  = fs.StringLong("tesseract-lang", "eng", "Tesseract language code")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		threshold      = fs.Float64Long("confidence-threshold", detect.DefaultThreshold, "Confidence gate for classifying an image as a document")
		interval       = fs.DurationLong("scan-interval", 30*time.Second, "Delay between scan cycles")
		backoff        = fs.DurationLong("backoff", 5*time.Minute, "Delay after an unexpected cycle fault")
		retention      = fs.DurationLong("retention", 720*time.Hour, "How long ledger records are kept")
		maxRetries     = fs.IntLong("max-upload-retries", 10, "Upload attempts per document before giving up")
		anyNetwork     = fs.BoolLong("any-network", "Upload without probing the endpoint health route first")
		disabled       = fs.BoolLong("disabled", "Start with the scan loop turned off (status API only)")
		statusAddr     = fs.StringLong("status-addr", ":8085", "Status API listen address")
		authUser       = fs.StringLong("auth-user", "", "Status API basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Status API basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PAPERMES"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *mediaDir == "" {
		slog.Error("A photo directory is required. Set --media-dir or PAPERMES_MEDIA_DIR")
		os.Exit(1)
	}

	// Initialize ledger
	slog.Info("Initializing ledger...", "path", *dbPath)
	db, err := ledger.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize recognizer based on type
	var recognizer recognize.Recognizer
	switch *recognizerType {
	case "tesseract":
		slog.Info("Initializing tesseract recognizer...", "url", *tesseractURL, "language", *tesseractLang)
		recognizer, err = recognize.NewTesseract(*tesseractURL, *tesseractLang)
		if err != nil {
			slog.Error("Failed to initialize tesseract", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = recognize.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "tesseract or gemini")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize uploader
	uploader, err := pipeline.NewUploader(*endpoint, *token, *scratchDir)
	if err != nil {
		slog.Error("Failed to initialize uploader", "error", err)
		os.Exit(1)
	}

	// Initialize metrics
	metrics, err := observability.NewMetrics()
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Assemble the pipeline
	source := media.NewDirSource(*mediaDir)
	detector := detect.NewDetector(recognizer, *threshold)
	gate := pipeline.NewHealthGate(uploader, !*anyNetwork)
	loop := pipeline.NewLoop(db, source, detector, uploader, gate, metrics.Pipeline, pipeline.Config{
		Interval:         *interval,
		Backoff:          *backoff,
		Retention:        *retention,
		MaxUploadRetries: *maxRetries,
	})

	// Start status server in goroutine
	basicAuth := status.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	statusServer := status.NewServer(db, loop, metrics, basicAuth)
	go func() {
		if err := statusServer.Start(*statusAddr); err != nil {
			slog.Error("Status server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Status API started", "address", fmt.Sprintf("http://localhost%s", *statusAddr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Start the scan loop unless disabled
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	if *disabled {
		slog.Info("Scan loop disabled, serving status API only")
		close(loopDone)
	} else {
		go func() {
			loop.Run(ctx)
			close(loopDone)
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	// Let an in-flight cycle finish before closing the ledger
	<-loopDone
}
