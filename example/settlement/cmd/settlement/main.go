package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/swell/example/settlement/internal/app"
	"github.com/tigerroll/swell/example/settlement/internal/feed"
	database "github.com/tigerroll/swell/pkg/batch/adapter/database"
	usecase "github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	identity "github.com/tigerroll/swell/pkg/batch/core/identity"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
// This file is used to load configuration at application startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// embeddedRulebook embeds the settlement rulebook. The engine compiles it at
// startup into the per-type partitioning and field mapping plan.
//
//go:embed resources/rulebook.yaml
var embeddedRulebook []byte

// embeddedFeed embeds a small settlement transaction feed for the demo run.
//
//go:embed resources/data/transactions.csv
var embeddedFeed []byte

// getStoreOptions selects the persistence stack. STORE_MODE=memory runs the
// engine DB-less on the in-memory repository; the default mode registers the
// DB providers from DB_ADAPTERS and runs the store on the configured database.
func getStoreOptions() []fx.Option {
	if strings.EqualFold(os.Getenv("STORE_MODE"), "memory") {
		logger.Warnf("STORE_MODE=memory: running on the in-memory store. Engine state does not survive the process.")
		return []fx.Option{app.MemoryStoreModule}
	}
	return append(getDBProviderOptions(), app.DatabaseStoreModule)
}

// getDBProviderOptions selects the DB providers to register based on the
// DB_ADAPTERS environment variable (comma-separated). When unset, Postgres,
// MySQL and SQLite are all registered.
func getDBProviderOptions() []fx.Option {
	adapters := os.Getenv("DB_ADAPTERS")
	if adapters == "" {
		adapters = "postgres,mysql,sqlite"
	}

	options := make([]fx.Option, 0)
	for _, adapterName := range strings.Split(adapters, ",") {
		adapterName = strings.TrimSpace(adapterName)
		if adapterName == "" {
			continue
		}

		if provider, ok := app.DBProviderMap[adapterName]; ok {
			options = append(options, fx.Provide(fx.Annotate(provider, fx.ResultTags(`group:"`+database.DBProviderGroup+`"`))))
			logger.Debugf("DB provider '%s' selected and registered.", adapterName)
		} else {
			logger.Warnf("DB provider '%s' is configured but not recognized/supported. Skipping.", adapterName)
		}
	}
	return options
}

// ensureEncryptionKey generates a volatile demo key when the field encryption
// key env is not set. The engine refuses to start without one, and encrypted
// fields from previous runs are unreadable under a fresh key.
func ensureEncryptionKey() {
	const keyEnv = "SWELL_FIELD_ENCRYPTION_KEY"
	if os.Getenv(keyEnv) != "" {
		return
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		logger.Fatalf("Failed to generate a demo encryption key: %v", err)
	}
	if err := os.Setenv(keyEnv, base64.StdEncoding.EncodeToString(raw)); err != nil {
		logger.Fatalf("Failed to set the demo encryption key: %v", err)
	}
	logger.Warnf("%s is not set. Generated a volatile demo key for this run.", keyEnv)
}

// buildSubmission assembles the settlement submission from the embedded CSV
// feed, or from synthetic transactions when SYNTHETIC_RECORDS is set.
func buildSubmission() (usecase.Submission, error) {
	businessDate := time.Now().Format("2006-01-02")

	request := identity.SubmissionRequest{
		SourceSystem: "settlement-gateway",
		BusinessDate: businessDate,
		FileRef:      "resources/data/transactions.csv",
	}

	if n := os.Getenv("SYNTHETIC_RECORDS"); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil || count <= 0 {
			logger.Fatalf("SYNTHETIC_RECORDS must be a positive integer, got '%s'.", n)
		}
		request.FileRef = "synthetic"
		return usecase.Submission{
			SubmissionRequest: request,
			Records:           feed.GenerateTransactions(count, businessDate),
		}, nil
	}

	parsed, err := feed.ParseTransactionsCSV(embeddedFeed)
	if err != nil {
		return usecase.Submission{}, err
	}
	return usecase.Submission{
		SubmissionRequest: request,
		Records:           parsed,
	}, nil
}

// main is the entry point of the application. It assembles the submission,
// handles shutdown signals and runs the Fx container.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the run...", sig)
		cancel()
	}()

	// Get the path to the .env file from environment variables. Use ".env" as default if not set.
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	ensureEncryptionKey()

	submission, err := buildSubmission()
	if err != nil {
		logger.Fatalf("Failed to build the settlement submission: %v", err)
	}

	// Provide the selected store stack and DB providers to Fx
	storeOptions := getStoreOptions()

	// Closed by the completion signaler once the execution reaches a terminal state.
	doneChan := make(chan struct{})

	app.RunApplication(ctx, envFilePath, embeddedConfig, embeddedRulebook, submission, storeOptions, doneChan)
	os.Exit(0)
}
