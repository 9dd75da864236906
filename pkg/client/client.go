// Package client is a reusable consumer of the lifecycle event stream: a
// state machine that turns the raw, sequenced frames from the WebSocket
// wire protocol into a deduped, UI-ready view of in-flight batches.
//
// Grounded on the corpus's pattern for a client-side stream reader: a
// gorilla/websocket connection feeding a typed decode loop that folds each
// frame into local state rather than handing raw JSON to the caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydocs/ingestor/internal/events"
)

// HydratedBatch is the subset of a hydration snapshot the processor needs
// to seed a batch it has not seen on the wire.
type HydratedBatch struct {
	BatchID      string
	CollectionID string
	Status       string
}

// HydrateFunc resolves a batch by id, typically backed by
// GET /api/documents/batches/:batchId. The bool return is false when the
// batch is unknown to the server.
type HydrateFunc func(ctx context.Context, batchID string) (HydratedBatch, bool, error)

// Display is a point-in-time, UI-ready projection of one tracked batch.
type Display struct {
	BatchID      string
	CollectionID string
	Status       string // queued, processing, completed, failed, timed_out
	Position     int
	Progress     int
	Message      string
	Error        string
}

const (
	defaultCompletedDisplay = 500 * time.Millisecond
	defaultFailedDisplay    = 10 * time.Second
)

type batchEntry struct {
	Display
	removeTimer *time.Timer
}

// Processor applies the server's lifecycle event stream to local state,
// enforcing collection scoping, hydration fallback, and the terminal
// display-then-drop behavior described for this event stream.
type Processor struct {
	mu         sync.Mutex
	collection string
	batches    map[string]*batchEntry
	queueFull  *Display

	hydrate  HydrateFunc
	onChange func()
	onFile   func(events.FileMetadataSummary)
	log      *slog.Logger

	completedDisplay time.Duration
	failedDisplay    time.Duration
}

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithHydrator supplies the fallback lookup used when an event arrives for
// a batchId the processor isn't already tracking and carries no
// collectionId of its own.
func WithHydrator(fn HydrateFunc) Option { return func(p *Processor) { p.hydrate = fn } }

// WithOnChange registers a callback invoked whenever visible state changes
// (new batch, status flip, terminal drop, QUEUE_FULL raised). The
// QUEUE_FULL banner is never cleared once raised.
func WithOnChange(fn func()) Option { return func(p *Processor) { p.onChange = fn } }

// WithFileHandler registers a callback for FILES_PROCESSED frames matching
// the current collection selection.
func WithFileHandler(fn func(events.FileMetadataSummary)) Option {
	return func(p *Processor) { p.onFile = fn }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option { return func(p *Processor) { p.log = log } }

// WithTerminalDisplay overrides how long a completed/failed batch remains
// visible before being dropped from local state.
func WithTerminalDisplay(completed, failed time.Duration) Option {
	return func(p *Processor) { p.completedDisplay = completed; p.failedDisplay = failed }
}

// New constructs a Processor scoped to collectionID ("" selects every
// collection).
func New(collectionID string, opts ...Option) *Processor {
	p := &Processor{
		collection:       collectionID,
		batches:          make(map[string]*batchEntry),
		log:              slog.Default(),
		completedDisplay: defaultCompletedDisplay,
		failedDisplay:    defaultFailedDisplay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SelectCollection changes which collection's events are accepted. Entries
// already tracked for the previous collection are left in place; events
// are what get filtered, not existing state.
func (p *Processor) SelectCollection(collectionID string) {
	p.mu.Lock()
	p.collection = collectionID
	p.mu.Unlock()
}

// Snapshot returns every currently visible batch, plus the global
// QUEUE_FULL banner if one is active.
func (p *Processor) Snapshot() (batches []Display, queueFull *Display) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.batches {
		batches = append(batches, e.Display)
	}
	if p.queueFull != nil {
		qf := *p.queueFull
		queueFull = &qf
	}
	return batches, queueFull
}

// Apply processes one event against current state, following the
// selection-filter, hydration-fallback, and terminal-display rules. It
// returns true when visible state changed.
func (p *Processor) Apply(ctx context.Context, e events.Event) bool {
	if e.Type == events.TypeQueueFull {
		p.mu.Lock()
		p.queueFull = &Display{Status: "queue_full", Message: e.Message}
		p.mu.Unlock()
		p.notify()
		return true
	}

	if e.Type == events.TypeFilesProcessed {
		p.mu.Lock()
		selected := p.collection
		p.mu.Unlock()
		if e.FileMetadata != nil && (selected == "" || selected == e.CollectionID) && p.onFile != nil {
			p.onFile(*e.FileMetadata)
		}
		return false
	}

	p.mu.Lock()
	_, tracked := p.batches[e.BatchID]
	selected := p.collection
	p.mu.Unlock()

	var accept bool
	switch {
	case e.CollectionID != "":
		accept = selected == "" || e.CollectionID == selected
	case tracked:
		accept = true
	}

	if !accept && !tracked && e.CollectionID == "" &&
		(e.Type == events.TypeBatchProcessingStarted || e.Type == events.TypeBatchProcessingProgress) {
		hb, ok, err := p.lookupViaHydration(ctx, e.BatchID)
		if err != nil {
			p.log.Warn("client: hydration lookup failed", "batchId", e.BatchID, "error", err)
			return false
		}
		if !ok || (selected != "" && hb.CollectionID != selected) {
			return false
		}
		accept = true
	}

	if !accept {
		return false
	}

	changed := p.apply(e)
	if changed {
		p.notify()
	}
	return changed
}

func (p *Processor) lookupViaHydration(ctx context.Context, batchID string) (HydratedBatch, bool, error) {
	if p.hydrate == nil {
		return HydratedBatch{}, false, nil
	}
	return p.hydrate(ctx, batchID)
}

func (p *Processor) apply(e events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.batches[e.BatchID]
	if !ok {
		entry = &batchEntry{Display: Display{BatchID: e.BatchID, CollectionID: e.CollectionID}}
		p.batches[e.BatchID] = entry
	}
	if e.CollectionID != "" {
		entry.CollectionID = e.CollectionID
	}

	switch e.Type {
	case events.TypeBatchQueued:
		entry.Status = "queued"
		entry.Position = e.Position
	case events.TypeBatchQueuePositionUpdated:
		entry.Position = e.Position
	case events.TypeBatchDequeued:
		// Silent transition: no user-visible "dequeued" state. The status
		// flips to processing on the PROCESSING_STARTED frame that follows.
		entry.Position = 0
		return false
	case events.TypeBatchProcessingStarted:
		entry.Status = "processing"
		entry.Message = e.Message
	case events.TypeBatchProcessingProgress:
		entry.Status = "processing"
		entry.Progress = e.Progress
		entry.Message = e.Message
	case events.TypeBatchProcessingCompleted:
		entry.Status = "completed"
		entry.Progress = 100
		p.scheduleRemoval(e.BatchID, entry, p.completedDisplay)
	case events.TypeBatchProcessingFailed:
		entry.Status = "failed"
		entry.Error = e.Error
		p.scheduleRemoval(e.BatchID, entry, p.failedDisplay)
	case events.TypeBatchTimeout:
		entry.Status = "timed_out"
		entry.Error = fmt.Sprintf("timed out after %dms", e.TimeoutMs)
		p.scheduleRemoval(e.BatchID, entry, p.failedDisplay)
	default:
		return false
	}
	return true
}

// scheduleRemoval arranges for entry to be dropped from local state after
// d, overwriting any previously scheduled removal for the same batch
// (terminal events dedupe per batchId; only the latest one governs).
func (p *Processor) scheduleRemoval(batchID string, entry *batchEntry, d time.Duration) {
	if entry.removeTimer != nil {
		entry.removeTimer.Stop()
	}
	entry.removeTimer = time.AfterFunc(d, func() {
		p.mu.Lock()
		delete(p.batches, batchID)
		p.mu.Unlock()
		p.notify()
	})
}

func (p *Processor) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}

// Dial connects to a server's WebSocket endpoint and feeds every decoded
// frame into Apply until ctx is canceled or the connection closes. rawURL
// should already carry any collectionId query parameter the caller wants
// the server to pre-filter replay with.
func Dial(ctx context.Context, rawURL string, p *Processor) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("client: read: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			p.log.Warn("client: malformed frame", "error", err)
			continue
		}
		p.Apply(ctx, e)
	}
}
