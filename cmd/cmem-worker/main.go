// cmem-worker is the local memory service for an interactive coding
// assistant: it ingests tool executions over HTTP, compresses them into
// structured observations, summarizes sessions, and serves assembled
// context back over HTTP and SSE.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/open-mem/cmem-worker/internal/api"
	"github.com/open-mem/cmem-worker/internal/auth"
	"github.com/open-mem/cmem-worker/internal/compress"
	"github.com/open-mem/cmem-worker/internal/config"
	"github.com/open-mem/cmem-worker/internal/llm"
	"github.com/open-mem/cmem-worker/internal/queue"
	"github.com/open-mem/cmem-worker/internal/search"
	"github.com/open-mem/cmem-worker/internal/sse"
	"github.com/open-mem/cmem-worker/internal/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CMEM_CONFIG_DIR", filepath.Join(os.Getenv("HOME"), ".cmem")),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("no .env file loaded", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("starting cmem-worker", "port", cfg.Port, "host", cfg.Host, "dataDir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	authMgr, err := auth.EnsureToken(filepath.Join(cfg.DataDir, "auth.token"))
	if err != nil {
		slog.Error("failed to initialize auth token", "error", err)
		os.Exit(1)
	}
	slog.Info("auth token ready", "path", authMgr.Path())

	st, err := store.Open(cfg.DBPath, authMgr.HMACKey())
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()
	slog.Info("store opened", "path", cfg.DBPath)

	apiKey := os.Getenv(cfg.APIKeyEnVar)
	llmClient := llm.New(apiKey, cfg.Model, "")
	if !llmClient.HasAPIKey() {
		slog.Warn("no API key configured, compression/summarization will fall back", "envVar", cfg.APIKeyEnVar)
	}
	compressor := compress.NewCompressor(llmClient)
	summarizer := compress.NewSummarizer(llmClient)

	broker := sse.NewBroker()
	defer broker.Stop()

	engine := queue.New(st, cfg.Queue, broker)
	if err := engine.Start(newProcessor(st, compressor, summarizer)); err != nil {
		slog.Error("failed to start queue engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	server := api.New(cfg, st, engine, search.New(st), broker, authMgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		slog.Info("http server listening", "addr", addr)
		errCh <- server.Start(addr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("http server exited", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}
}

// newProcessor builds the queue.Processor that turns a dequeued
// observation or summary payload into persisted rows and SSE events'
// backing data (§4.5, §4.6).
func newProcessor(st *store.Store, compressor *compress.Compressor, summarizer *compress.Summarizer) queue.Processor {
	return func(ctx context.Context, item store.QueueItem) (*queue.ProcessResult, error) {
		switch item.Type {
		case store.QueueTypeObservation:
			return processObservation(ctx, st, compressor, item)
		case store.QueueTypeSummary:
			return processSummary(ctx, st, summarizer, item)
		default:
			return nil, fmt.Errorf("unknown queue item type %q", item.Type)
		}
	}
}

func processObservation(ctx context.Context, st *store.Store, compressor *compress.Compressor, item store.QueueItem) (*queue.ProcessResult, error) {
	var payload queue.ToolPayload
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		return nil, fmt.Errorf("decoding tool payload: %w", err)
	}

	sess, err := st.GetSessionByID(item.SessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %d: %w", item.SessionID, err)
	}

	compressed := compressor.Compress(ctx, compress.CompressionInput{
		ToolName:     payload.ToolName,
		ToolInput:    payload.ToolInput,
		ToolResponse: payload.ToolResponse,
		Project:      payload.Project,
		PromptNumber: payload.PromptNumber,
		UserGoal:     valueOr(sess.FirstPrompt),
	})

	blob, err := json.Marshal(map[string]interface{}{
		"facts":          compressed.Facts,
		"files_modified": compressed.FilesMod,
		"files_read":     compressed.FilesRead,
		"tags":           compressed.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding compressed blob: %w", err)
	}

	rawInput := payload.ToolInput
	observation, err := st.InsertObservation(store.Observation{
		SessionID:  item.SessionID,
		PromptNum:  payload.PromptNumber,
		ToolName:   payload.ToolName,
		RawInput:   &rawInput,
		Compressed: string(blob),
		ObsType:    compressed.Type,
		Title:      compressed.Title,
		Narrative:  compressed.Narrative,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting observation: %w", err)
	}

	return &queue.ProcessResult{
		ObservationID: observation.ID,
		Project:       payload.Project,
		Title:         observation.Title,
		Kind:          string(observation.ObsType),
	}, nil
}

func processSummary(ctx context.Context, st *store.Store, summarizer *compress.Summarizer, item store.QueueItem) (*queue.ProcessResult, error) {
	var payload queue.SummaryPayload
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		return nil, fmt.Errorf("decoding summary payload: %w", err)
	}

	partial := summarizer.Summarize(ctx, compress.SummarizeInput{
		Project:          payload.Project,
		LastUserMessage:  payload.LastUserMessage,
		LastAssistantMsg: payload.LastAssistantMsg,
		ObservationCount: payload.ObservationCount,
		SessionDbID:      payload.SessionDbID,
	})

	summary, err := st.InsertSummary(store.Summary{
		SessionID:    payload.SessionDbID,
		Request:      &partial.Request,
		Investigated: &partial.Investigated,
		Learned:      &partial.Learned,
		Completed:    &partial.Completed,
		NextSteps:    &partial.NextSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting summary: %w", err)
	}

	if err := st.UpdateSessionStatus(payload.SessionDbID, store.SessionCompleted); err != nil {
		return nil, fmt.Errorf("completing session after summarize: %w", err)
	}

	return &queue.ProcessResult{
		Project:   payload.Project,
		SummaryID: summary.ID,
		Request:   partial.Request,
	}, nil
}

func valueOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
