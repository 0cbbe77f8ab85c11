// Package queue implements the in-memory, at-least-once processing
// engine over the persistent queue: per-session locking, polling,
// exponential-backoff retry, stuck detection, and startup recovery
// (§4.5). Ordering guarantee: within one session, items are processed
// in enqueue order; across sessions, ordering is unspecified.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/open-mem/cmem-worker/internal/config"
	"github.com/open-mem/cmem-worker/internal/scrub"
	"github.com/open-mem/cmem-worker/internal/store"
)

// ProcessResult carries the details needed to announce a successfully
// processed item over SSE: ObservationID/Title/Kind for
// "observation-processed" (§6.4), SummaryID/Request for
// "session-summary-created" (§6.4), depending on the item's type.
type ProcessResult struct {
	ObservationID int64
	Project       string
	Title         string
	Kind          string
	SummaryID     int64
	Request       string
}

// Processor handles one queue item's payload, persisting whatever
// result it produces (typically via the Store). A returned error is
// retried by the engine.
type Processor func(ctx context.Context, item store.QueueItem) (*ProcessResult, error)

// Notifier receives lifecycle events for SSE broadcast (§4.5, §6.4).
// The queue engine depends only on this narrow interface so it never
// imports the SSE package directly.
type Notifier interface {
	ObservationCreated(queueID, sessionID int64, project, toolName string)
	ObservationProcessed(observationID, queueID, sessionID int64, project, title, kind string)
	SummaryProcessed(summaryID, sessionID int64, project, request string)
	ItemFailed(queueID, sessionID int64, reason string)
	ItemStuck(queueID, sessionID int64)
}

// ToolPayload is the JSON shape enqueued by HTTP handlers and consumed
// by the processor.
type ToolPayload struct {
	ToolName     string `json:"tool_name"`
	ToolInput    string `json:"tool_input"`
	ToolResponse string `json:"tool_response"`
	Project      string `json:"project"`
	PromptNumber int    `json:"prompt_number"`
}

// SummaryPayload is the JSON shape enqueued for type=summary queue
// items, built by the HTTP handler and decoded by the processor before
// handing it to the Summarizer (§4.6).
type SummaryPayload struct {
	Project          string `json:"project"`
	LastUserMessage  string `json:"last_user_message"`
	LastAssistantMsg string `json:"last_assistant_message"`
	ObservationCount int    `json:"observation_count"`
	SessionDbID      int64  `json:"session_db_id"`
}

// sessionStore is the subset of *store.Store the engine depends on.
type sessionStore interface {
	GetSessionByID(id int64) (*store.Session, error)
	BackfillProject(sessionID int64, project string) error
	Enqueue(sessionID int64, itemType store.QueueItemType, payload string) (*store.QueueItem, error)
	ListPending(limit int) ([]store.QueueItem, error)
	MarkProcessing(id int64) error
	MarkProcessed(id int64) error
	MarkFailed(id int64, reason string) error
	RequeuePending(id int64) error
	GetRetryCount(id int64) (int, error)
	ListStuck(thresholdSeconds int64) ([]store.QueueItem, error)
	ResetProcessingToPending() (int64, error)
}

// Engine is the C5 Queue Engine.
type Engine struct {
	store    sessionStore
	cfg      config.QueueConfig
	notifier Notifier
	processor Processor

	mu                  sync.Mutex
	pending             []store.QueueItem
	processingBySession map[int64]int64 // session id -> queue id

	pollTicker  *time.Ticker
	stuckTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New constructs an Engine bound to a store and notifier.
func New(s sessionStore, cfg config.QueueConfig, notifier Notifier) *Engine {
	return &Engine{
		store:               s,
		cfg:                 cfg,
		notifier:            notifier,
		processingBySession: make(map[int64]int64),
		stopCh:              make(chan struct{}),
	}
}

// Start resets orphaned processing rows from a previous run back to
// pending, refills the in-memory pending list, and schedules the poll
// and stuck-scan timers (§4.5 "start(processor)").
func (e *Engine) Start(processor Processor) error {
	e.processor = processor

	reset, err := e.store.ResetProcessingToPending()
	if err != nil {
		return fmt.Errorf("resetting stuck processing rows at startup: %w", err)
	}
	if reset > 0 {
		slog.Info("reset orphaned processing rows to pending at startup", "count", reset)
	}

	if err := e.refillPending(); err != nil {
		return fmt.Errorf("refilling pending list at startup: %w", err)
	}

	e.pollTicker = time.NewTicker(e.cfg.PollInterval)
	e.stuckTicker = time.NewTicker(e.cfg.StuckScanPeriod)

	e.wg.Add(2)
	go e.pollLoop()
	go e.stuckLoop()

	return nil
}

// Stop cancels the timers. In-flight tasks are left to complete
// naturally; each releases its session lock in its own finally path
// (§4.5 "stop()").
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.pollTicker != nil {
		e.pollTicker.Stop()
	}
	if e.stuckTicker != nil {
		e.stuckTicker.Stop()
	}
	e.wg.Wait()
}

func (e *Engine) refillPending() error {
	items, err := e.store.ListPending(e.cfg.PendingRefill)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.pending = items
	e.mu.Unlock()
	return nil
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.pollTicker.C:
			e.processBatch()
		}
	}
}

func (e *Engine) stuckLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.stuckTicker.C:
			e.scanStuck()
		}
	}
}

// Enqueue backfills the session's project when one is given (the session
// row must already exist), truncates the tool response,
// inserts a queue row, appends it to the in-memory list, emits
// observation-created, and triggers an immediate processing pass if the
// session is not currently locked (§4.5 "enqueue").
func (e *Engine) Enqueue(sessionID int64, toolName, toolInput, toolResponse, project string) (int64, error) {
	if project != "" {
		if err := e.store.BackfillProject(sessionID, project); err != nil {
			return 0, fmt.Errorf("backfilling project: %w", err)
		}
	}

	truncated := scrub.EnforceByteLimit(toolResponse, scrub.ObservationByteLimit)
	payload, err := json.Marshal(ToolPayload{
		ToolName: toolName, ToolInput: toolInput, ToolResponse: truncated, Project: project,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding queue payload: %w", err)
	}

	item, err := e.store.Enqueue(sessionID, store.QueueTypeObservation, string(payload))
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.pending = append(e.pending, *item)
	_, locked := e.processingBySession[sessionID]
	e.mu.Unlock()

	e.notifier.ObservationCreated(item.ID, sessionID, project, toolName)

	if !locked {
		e.processBatch()
	}
	return item.ID, nil
}

// EnqueueSummary is the summary-job counterpart of Enqueue (§3
// QueueItem type=summary).
func (e *Engine) EnqueueSummary(sessionID int64, payload string) error {
	item, err := e.store.Enqueue(sessionID, store.QueueTypeSummary, payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.pending = append(e.pending, *item)
	_, locked := e.processingBySession[sessionID]
	e.mu.Unlock()
	if !locked {
		e.processBatch()
	}
	return nil
}

// processBatch dispatches every in-memory item whose session is
// currently unlocked, picking at most one item per session per pass so
// per-session ordering is preserved (§4.5 "processBatch").
func (e *Engine) processBatch() {
	e.mu.Lock()
	var remaining []store.QueueItem
	dispatchedThisPass := make(map[int64]bool)
	var toRun []store.QueueItem

	for _, item := range e.pending {
		_, locked := e.processingBySession[item.SessionID]
		if locked || dispatchedThisPass[item.SessionID] {
			remaining = append(remaining, item)
			continue
		}
		e.processingBySession[item.SessionID] = item.ID
		dispatchedThisPass[item.SessionID] = true
		toRun = append(toRun, item)
	}
	e.pending = remaining
	e.mu.Unlock()

	for _, item := range toRun {
		e.wg.Add(1)
		go e.runItem(item)
	}
}

func (e *Engine) runItem(item store.QueueItem) {
	defer e.wg.Done()
	defer e.releaseLock(item.SessionID)

	if err := e.store.MarkProcessing(item.ID); err != nil {
		slog.Error("marking queue item processing failed", "queue_id", item.ID, "error", err)
		return
	}

	ctx := context.Background()
	result, procErr := e.processor(ctx, item)
	if procErr == nil {
		if err := e.store.MarkProcessed(item.ID); err != nil {
			slog.Error("marking queue item processed failed", "queue_id", item.ID, "error", err)
		}
		if result == nil {
			result = &ProcessResult{}
		}
		switch item.Type {
		case store.QueueTypeSummary:
			e.notifier.SummaryProcessed(result.SummaryID, item.SessionID, result.Project, result.Request)
		default:
			e.notifier.ObservationProcessed(result.ObservationID, item.ID, item.SessionID, result.Project, result.Title, result.Kind)
		}
		return
	}

	slog.Warn("queue item processing failed", "queue_id", item.ID, "error", procErr)

	retries, err := e.store.GetRetryCount(item.ID)
	if err != nil {
		slog.Error("reading retry count failed", "queue_id", item.ID, "error", err)
		retries = e.cfg.MaxRetries
	}

	if retries+1 >= e.cfg.MaxRetries {
		if err := e.store.MarkFailed(item.ID, procErr.Error()); err != nil {
			slog.Error("marking queue item failed", "queue_id", item.ID, "error", err)
		}
		e.notifier.ItemFailed(item.ID, item.SessionID, procErr.Error())
		return
	}

	if err := e.store.RequeuePending(item.ID); err != nil {
		slog.Error("requeuing item failed", "queue_id", item.ID, "error", err)
		return
	}

	delay := backoffDelay(retries + 1)
	item.RetryCount = retries + 1
	e.scheduleRetry(item, delay)
}

// backoffDelay computes 2s * 2^(retry-1): 2s, 4s, 8s for retries 1..3,
// via cenkalti/backoff's exponential sequence with randomization
// disabled for determinism.
func backoffDelay(retry int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	delay := b.InitialInterval
	for i := 1; i < retry; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
	}
	return delay
}

// scheduleRetry re-adds the item to the pending list after delay,
// without blocking the engine's goroutine pool. It does not touch the
// session lock; runItem's deferred releaseLock frees it.
func (e *Engine) scheduleRetry(item store.QueueItem, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-e.stopCh:
			return
		case <-timer.C:
		}
		e.mu.Lock()
		e.pending = append(e.pending, item)
		e.mu.Unlock()
		e.processBatch()
	}()
}

func (e *Engine) releaseLock(sessionID int64) {
	e.mu.Lock()
	delete(e.processingBySession, sessionID)
	e.mu.Unlock()
}

// scanStuck requests processing rows older than the configured stuck
// threshold, marks each failed, releases any in-memory lock, and emits
// item-stuck (§4.5 "Stuck detection").
func (e *Engine) scanStuck() {
	items, err := e.store.ListStuck(int64(e.cfg.StuckThreshold.Seconds()))
	if err != nil {
		slog.Error("listing stuck queue items failed", "error", err)
		return
	}
	for _, item := range items {
		if err := e.store.MarkFailed(item.ID, "Stuck: exceeded processing timeout"); err != nil {
			slog.Error("marking stuck item failed", "queue_id", item.ID, "error", err)
			continue
		}
		e.releaseLock(item.SessionID)
		e.notifier.ItemStuck(item.ID, item.SessionID)
	}
}

// RecoverStuck is the explicit, on-demand variant of stuck recovery
// exposed via POST /api/queue/recover (§4.5 "recoverStuck()"). Unlike
// scanStuck, it moves rows back to pending rather than failing them.
func (e *Engine) RecoverStuck(sessionID *int64) (int, error) {
	items, err := e.store.ListStuck(int64(e.cfg.StuckThreshold.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("listing stuck items: %w", err)
	}

	recovered := 0
	for _, item := range items {
		if sessionID != nil && item.SessionID != *sessionID {
			continue
		}
		if err := e.store.RequeuePending(item.ID); err != nil {
			slog.Error("recovering stuck item failed", "queue_id", item.ID, "error", err)
			continue
		}
		e.releaseLock(item.SessionID)
		recovered++
	}

	if err := e.refillPending(); err != nil {
		return recovered, fmt.Errorf("refilling pending list after recovery: %w", err)
	}
	return recovered, nil
}
