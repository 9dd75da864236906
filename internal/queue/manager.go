// Package queue implements the bounded FIFO batch queue: a fixed number of
// concurrent execution slots, a capacity-limited parking lot ahead of them,
// per-batch wall-clock timeouts, and the lifecycle events the rest of the
// system (WebSocket hub, hydration API, alerting) observes.
//
// Generalized from the corpus's semaphore-bounded fan-out over a fixed,
// one-shot provider list (acquire a channel slot, run, release, repeat)
// into a live queue mutated concurrently by HTTP handlers, timers, and
// in-flight completions. A fixed-size worker pool with a wait group is
// enough when the work list is known up front; here the list changes while
// jobs are running, so dispatch, release, and timeout are all explicit,
// mutex-guarded transitions instead of one pass through a wait group.
package queue

import (
	"container/ring"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/relaydocs/ingestor/internal/events"
	"github.com/relaydocs/ingestor/internal/eventbus"
	"github.com/relaydocs/ingestor/internal/metrics"
)

// Outcome is the result of an Enqueue call.
type Outcome string

const (
	Accepted          Outcome = "accepted"
	RejectedFull      Outcome = "rejected_full"
	RejectedDuplicate Outcome = "rejected_duplicate"
	RejectedShutdown  Outcome = "rejected_shutdown"
	RejectedInvalid   Outcome = "rejected_invalid"
)

// State is a batch job's position in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "processing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateUnknown   State = "unknown"
)

// ErrInvalidJob is returned (wrapped) when Enqueue rejects a job for
// missing required fields.
var ErrInvalidJob = errors.New("queue: invalid job")

// Job describes one unit of work submitted to the queue. Processor is
// invoked with a context that is canceled when the batch's wall-clock
// timeout elapses; Processor should treat cancellation as a hard stop and
// return promptly.
type Job struct {
	BatchID      string
	CollectionID string
	FileCount    int
	Processor    func(ctx context.Context) error
}

func (j Job) validate() error {
	if j.BatchID == "" {
		return fmt.Errorf("%w: batchId is required", ErrInvalidJob)
	}
	if j.FileCount <= 0 {
		return fmt.Errorf("%w: fileCount must be positive", ErrInvalidJob)
	}
	if j.Processor == nil {
		return fmt.Errorf("%w: processor is required", ErrInvalidJob)
	}
	return nil
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
}

type activeJob struct {
	job       Job
	startedAt time.Time
	cancel    context.CancelFunc
	timer     *time.Timer
}

// Config controls queue capacity, concurrency, and timeout behavior. Zero
// values are replaced by defaults and out-of-range values are clamped by
// New.
type Config struct {
	MaxConcurrentBatches     int
	MaxQueueLength           int
	BatchQueueTimeout        time.Duration
	BatchQueueTimeoutMult    float64
	AverageBatchSeconds      int
	EnableQueueLogging       bool
	EnableGracefulShutdown   bool
	GracefulShutdownTimeout  time.Duration
}

func (c Config) normalized() Config {
	if c.MaxConcurrentBatches < 1 {
		c.MaxConcurrentBatches = 1
	} else if c.MaxConcurrentBatches > 20 {
		c.MaxConcurrentBatches = 20
	}
	if c.MaxQueueLength == 0 {
		c.MaxQueueLength = 500
	} else if c.MaxQueueLength < 10 {
		c.MaxQueueLength = 10
	} else if c.MaxQueueLength > 1000 {
		c.MaxQueueLength = 1000
	}
	if c.BatchQueueTimeout == 0 {
		c.BatchQueueTimeout = 30 * time.Minute
	} else if c.BatchQueueTimeout < 60*time.Second {
		c.BatchQueueTimeout = 60 * time.Second
	}
	if c.BatchQueueTimeoutMult == 0 {
		c.BatchQueueTimeoutMult = 1.0
	} else if c.BatchQueueTimeoutMult < 0.5 {
		c.BatchQueueTimeoutMult = 0.5
	} else if c.BatchQueueTimeoutMult > 5.0 {
		c.BatchQueueTimeoutMult = 5.0
	}
	if c.AverageBatchSeconds == 0 {
		c.AverageBatchSeconds = 150
	} else if c.AverageBatchSeconds < 30 {
		c.AverageBatchSeconds = 30
	}
	// EnableGracefulShutdown's default of true is applied by
	// config.FromEnv, not here: a plain bool can't distinguish "unset"
	// from "explicitly disabled" once it reaches this struct.
	if c.GracefulShutdownTimeout == 0 {
		c.GracefulShutdownTimeout = 120 * time.Second
	} else if c.GracefulShutdownTimeout < 60*time.Second {
		c.GracefulShutdownTimeout = 60 * time.Second
	} else if c.GracefulShutdownTimeout > 600*time.Second {
		c.GracefulShutdownTimeout = 600 * time.Second
	}
	return c
}

func (c Config) effectiveTimeout() time.Duration {
	return time.Duration(float64(c.BatchQueueTimeout) * c.BatchQueueTimeoutMult)
}

// Counters is a snapshot of lifetime queue counters.
type Counters struct {
	TotalEnqueued int64
	TotalProcessed int64
	TotalFailed   int64
}

// BatchSnapshot describes one queued or active job for Status/BatchInfo.
type BatchSnapshot struct {
	BatchID           string
	CollectionID      string
	FileCount         int
	State             State
	Position          int // 1-based when queued, 0 when active
	EnqueuedAt        time.Time
	StartedAt         time.Time
	ElapsedSeconds    float64
	RemainingTimeoutS float64
	EstimatedWaitSec  int
}

// StatusReport is the aggregate view returned by Status.
type StatusReport struct {
	Config            Config
	QueueLength       int
	ActiveCount       int
	UtilizationPct    float64
	Counters          Counters
	AverageCompletion float64
	ThroughputPerHour float64
	AverageWaitSec    float64
	Queued            []BatchSnapshot
	Active            []BatchSnapshot
}

// Manager is the bounded FIFO batch queue. The zero value is not usable;
// construct with New.
type Manager struct {
	cfg  Config
	bus  *eventbus.Bus
	log  *slog.Logger

	mu            sync.Mutex
	queue         []*queuedJob
	active        map[string]*activeJob
	shuttingDown  bool
	startedAt     time.Time
	counters      Counters
	failedCounted map[string]bool

	durations     *ring.Ring // recent completion durations, seconds (float64)
	durationCount int

	debounceMu    sync.Mutex
	debouncePend  bool
	debounceTimer *time.Timer

	shutdownWG sync.WaitGroup
}

const durationRingSize = 100

// New constructs a Manager publishing lifecycle events to bus.
func New(cfg Config, bus *eventbus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:           cfg.normalized(),
		bus:           bus,
		log:           log,
		active:        make(map[string]*activeJob),
		failedCounted: make(map[string]bool),
		durations:     ring.New(durationRingSize),
		startedAt:     time.Now(),
	}
}

// Enqueue admits job to the queue, or rejects it per the outcomes
// documented on Outcome. On Accepted, position is 1-based; on rejection it
// is -1 except RejectedDuplicate, which returns 0 for a batch that is
// already active and the job's existing position for one still queued.
func (m *Manager) Enqueue(job Job) (int, Outcome) {
	if err := job.validate(); err != nil {
		m.log.Warn("queue: rejecting invalid job", "batchId", job.BatchID, "error", err)
		return -1, RejectedInvalid
	}

	m.mu.Lock()

	if m.shuttingDown {
		m.mu.Unlock()
		m.log.Warn("queue: rejecting enqueue during shutdown", "batchId", job.BatchID)
		return -1, RejectedShutdown
	}

	if _, active := m.active[job.BatchID]; active {
		m.mu.Unlock()
		m.log.Warn("queue: duplicate enqueue of active batch ignored", "batchId", job.BatchID)
		return 0, RejectedDuplicate
	}
	for i, qj := range m.queue {
		if qj.job.BatchID == job.BatchID {
			pos := i + 1
			m.mu.Unlock()
			m.log.Warn("queue: duplicate enqueue of queued batch ignored", "batchId", job.BatchID, "position", pos)
			return pos, RejectedDuplicate
		}
	}

	if len(m.queue) >= m.cfg.MaxQueueLength {
		length, max := len(m.queue), m.cfg.MaxQueueLength
		m.mu.Unlock()
		m.log.Warn("queue: rejecting enqueue, queue full", "batchId", job.BatchID, "length", length)
		m.publish(events.QueueFull(
			fmt.Sprintf("queue is full (%d/%d)", length, max), length, max))
		return -1, RejectedFull
	}

	m.queue = append(m.queue, &queuedJob{job: job, enqueuedAt: time.Now()})
	m.counters.TotalEnqueued++
	position := len(m.queue)
	wait := m.estimateWaitLocked(position)
	totalQueued := len(m.queue)
	m.mu.Unlock()

	metrics.QueueDepth.Set(float64(totalQueued))

	if m.cfg.EnableQueueLogging {
		m.log.Info("queue: accepted", "batchId", job.BatchID, "position", position, "estimatedWaitSec", wait)
	}
	m.publish(events.BatchQueued(job.BatchID, job.CollectionID, position, job.FileCount, wait, totalQueued))

	m.processNext()
	return position, Accepted
}

// processNext dispatches as many queued jobs as there are free execution
// slots. Safe to call whenever queue composition may have changed.
func (m *Manager) processNext() {
	for {
		m.mu.Lock()
		if m.shuttingDown || len(m.active) >= m.cfg.MaxConcurrentBatches || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}

		qj := m.queue[0]
		m.queue = m.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		aj := &activeJob{job: qj.job, startedAt: time.Now()}
		aj.cancel = cancel
		aj.timer = time.AfterFunc(m.cfg.effectiveTimeout(), func() { m.onTimeout(qj.job.BatchID) })
		m.active[qj.job.BatchID] = aj

		totalQueued := len(m.queue)
		activeCount := len(m.active)
		availableSlots := m.cfg.MaxConcurrentBatches - activeCount
		m.shutdownWG.Add(1)
		m.mu.Unlock()

		metrics.QueueDepth.Set(float64(totalQueued))
		metrics.QueueActiveSlots.Set(float64(activeCount))

		if m.cfg.EnableQueueLogging {
			m.log.Info("queue: dequeued", "batchId", qj.job.BatchID, "activeCount", activeCount)
		}
		m.publish(events.BatchDequeued(qj.job.BatchID, qj.job.CollectionID, qj.job.FileCount, aj.startedAt, totalQueued, activeCount, availableSlots))
		m.emitPositionUpdatesNow(qj.job.BatchID)

		go m.run(ctx, qj.job)
	}
}

func (m *Manager) run(ctx context.Context, job Job) {
	defer m.shutdownWG.Done()
	err := func() (runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic in batch processor: %v", r)
				m.log.Error("queue: recovered panic in processor", "batchId", job.BatchID, "panic", r)
			}
		}()
		return job.Processor(ctx)
	}()
	m.release(job.BatchID, err, false)
}

// onTimeout fires when a batch's wall-clock budget elapses while still
// active. It cancels the runner's context so the processor can stop
// promptly, then releases the slot on the timeout path.
func (m *Manager) onTimeout(batchID string) {
	m.mu.Lock()
	aj, ok := m.active[batchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	alreadyCounted := m.failedCounted[batchID]
	m.failedCounted[batchID] = true
	if !alreadyCounted {
		m.counters.TotalFailed++
	}
	collectionID := aj.job.CollectionID
	timeoutMs := m.cfg.effectiveTimeout().Milliseconds()
	m.mu.Unlock()

	m.log.Warn("queue: batch timed out", "batchId", batchID, "timeoutMs", timeoutMs)
	metrics.BatchesTotal.WithLabelValues("timed_out").Inc()
	m.publish(events.BatchTimeout(batchID, collectionID, timeoutMs))

	// aj.cancel propagates into the running Processor's ctx; the runner
	// owns emitting BATCH_PROCESSING_FAILED once it observes ctx.Err(),
	// so this path only announces the timeout itself.
	aj.cancel()
	m.release(batchID, context.DeadlineExceeded, true)
}

// release removes batchID from the active set, records its duration, and
// dispatches the next queued job. timedOutPath indicates the timeout path
// already incremented TotalFailed for this batch so release must not
// double-count it.
func (m *Manager) release(batchID string, runErr error, timedOutPath bool) {
	m.mu.Lock()
	aj, ok := m.active[batchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, batchID)
	aj.timer.Stop()
	duration := time.Since(aj.startedAt)
	m.durations.Value = duration.Seconds()
	m.durations = m.durations.Next()
	if m.durationCount < durationRingSize {
		m.durationCount++
	}

	if runErr != nil && !timedOutPath {
		if !m.failedCounted[batchID] {
			m.failedCounted[batchID] = true
			m.counters.TotalFailed++
		}
	} else if runErr == nil {
		m.counters.TotalProcessed++
	}
	delete(m.failedCounted, batchID)
	activeCount := len(m.active)
	m.mu.Unlock()

	metrics.BatchDurationSeconds.Observe(duration.Seconds())
	metrics.QueueActiveSlots.Set(float64(activeCount))
	if !timedOutPath {
		outcome := "completed"
		if runErr != nil {
			outcome = "failed"
		}
		metrics.BatchesTotal.WithLabelValues(outcome).Inc()
	}

	if m.cfg.EnableQueueLogging {
		m.log.Info("queue: released", "batchId", batchID, "durationSec", duration.Seconds(), "error", runErr)
	}

	m.emitPositionUpdates(batchID)
	m.processNext()
}

// emitPositionUpdatesNow recomputes and publishes BATCH_QUEUE_POSITION_UPDATED
// for every still-queued job immediately, skipping excludeBatchID (the job
// that just dequeued has nothing left to update). Used on the dequeue path:
// a position decrease is the transition clients care about seeing promptly,
// so it bypasses the debounce window entirely.
func (m *Manager) emitPositionUpdatesNow(excludeBatchID string) {
	m.flushPositionUpdates(excludeBatchID)
}

// emitPositionUpdates coalesces position recomputation behind a one-second
// debounce window, used on the release path where a burst of batches
// finishing in quick succession should collapse into a single broadcast.
// The timer reads the live queue when it fires rather than a snapshot
// captured at schedule time, so a position change that arrives mid-window
// is never lost behind a stale composition.
func (m *Manager) emitPositionUpdates(excludeBatchID string) {
	m.debounceMu.Lock()
	if m.debouncePend {
		m.debounceMu.Unlock()
		return
	}
	m.debouncePend = true
	m.debounceTimer = time.AfterFunc(time.Second, func() {
		m.debounceMu.Lock()
		m.debouncePend = false
		m.debounceMu.Unlock()
		m.flushPositionUpdates(excludeBatchID)
	})
	m.debounceMu.Unlock()
}

func (m *Manager) flushPositionUpdates(excludeBatchID string) {
	m.mu.Lock()
	snapshot := make([]*queuedJob, len(m.queue))
	copy(snapshot, m.queue)
	m.mu.Unlock()

	for i, qj := range snapshot {
		if qj.job.BatchID == excludeBatchID {
			continue
		}
		position := i + 1
		wait := m.EstimateWait(position)
		m.publish(events.BatchQueuePositionUpdated(qj.job.BatchID, qj.job.CollectionID, position, wait, len(snapshot)))
	}
}

// EstimateWait computes the estimated wait in seconds for a job at the
// given 1-based queue position.
func (m *Manager) EstimateWait(position int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateWaitLocked(position)
}

func (m *Manager) estimateWaitLocked(position int) int {
	availableSlots := m.cfg.MaxConcurrentBatches - len(m.active)
	if position <= availableSlots {
		return 0
	}
	avg := m.averageDurationLocked()
	secs := math.Ceil(float64(position-availableSlots) * avg / float64(m.cfg.MaxConcurrentBatches))
	return int(secs)
}

func (m *Manager) averageDurationLocked() float64 {
	if m.durationCount == 0 {
		return float64(m.cfg.AverageBatchSeconds)
	}
	sum := 0.0
	r := m.durations
	for i := 0; i < m.durationCount; i++ {
		if v, ok := r.Value.(float64); ok {
			sum += v
		}
		r = r.Prev()
	}
	return sum / float64(m.durationCount)
}

// QueuePosition returns 0 if batchID is active, its 1-based queue position
// if queued, or -1 if unknown.
func (m *Manager) QueuePosition(batchID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[batchID]; ok {
		return 0
	}
	for i, qj := range m.queue {
		if qj.job.BatchID == batchID {
			return i + 1
		}
	}
	return -1
}

// CanAcceptNewBatch reports whether Enqueue would currently succeed for a
// well-formed, non-duplicate job.
func (m *Manager) CanAcceptNewBatch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown {
		return false
	}
	return len(m.active) < m.cfg.MaxConcurrentBatches || len(m.queue) < m.cfg.MaxQueueLength
}

// BatchInfo returns a snapshot for batchID, or ok=false if unknown.
func (m *Manager) BatchInfo(batchID string) (BatchSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if aj, ok := m.active[batchID]; ok {
		elapsed := time.Since(aj.startedAt)
		remaining := m.cfg.effectiveTimeout() - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return BatchSnapshot{
			BatchID:           batchID,
			CollectionID:      aj.job.CollectionID,
			FileCount:         aj.job.FileCount,
			State:             StateActive,
			EnqueuedAt:        aj.startedAt,
			StartedAt:         aj.startedAt,
			ElapsedSeconds:    elapsed.Seconds(),
			RemainingTimeoutS: remaining.Seconds(),
		}, true
	}
	for i, qj := range m.queue {
		if qj.job.BatchID == batchID {
			position := i + 1
			return BatchSnapshot{
				BatchID:          batchID,
				CollectionID:     qj.job.CollectionID,
				FileCount:        qj.job.FileCount,
				State:            StateQueued,
				Position:         position,
				EnqueuedAt:       qj.enqueuedAt,
				EstimatedWaitSec: m.estimateWaitLocked(position),
			}, true
		}
	}
	return BatchSnapshot{}, false
}

// Status returns the aggregate view of the queue's current state.
func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := make([]BatchSnapshot, len(m.queue))
	for i, qj := range m.queue {
		position := i + 1
		queued[i] = BatchSnapshot{
			BatchID:          qj.job.BatchID,
			CollectionID:     qj.job.CollectionID,
			FileCount:        qj.job.FileCount,
			State:            StateQueued,
			Position:         position,
			EnqueuedAt:       qj.enqueuedAt,
			EstimatedWaitSec: m.estimateWaitLocked(position),
		}
	}

	active := make([]BatchSnapshot, 0, len(m.active))
	for id, aj := range m.active {
		elapsed := time.Since(aj.startedAt)
		remaining := m.cfg.effectiveTimeout() - elapsed
		if remaining < 0 {
			remaining = 0
		}
		active = append(active, BatchSnapshot{
			BatchID:           id,
			CollectionID:      aj.job.CollectionID,
			FileCount:         aj.job.FileCount,
			State:             StateActive,
			StartedAt:         aj.startedAt,
			ElapsedSeconds:    elapsed.Seconds(),
			RemainingTimeoutS: remaining.Seconds(),
		})
	}

	uptime := time.Since(m.startedAt).Hours()
	throughput := 0.0
	if uptime > 0 {
		throughput = float64(m.counters.TotalProcessed) / uptime
	}

	waitSum := 0.0
	for i := 1; i <= len(m.queue); i++ {
		waitSum += float64(m.estimateWaitLocked(i))
	}
	avgWait := 0.0
	if len(m.queue) > 0 {
		avgWait = waitSum / float64(len(m.queue))
	}

	utilization := 0.0
	if m.cfg.MaxConcurrentBatches > 0 {
		utilization = float64(len(m.active)) / float64(m.cfg.MaxConcurrentBatches) * 100
	}

	return StatusReport{
		Config:            m.cfg,
		QueueLength:       len(m.queue),
		ActiveCount:       len(m.active),
		UtilizationPct:    utilization,
		Counters:          m.counters,
		AverageCompletion: m.averageDurationLocked(),
		ThroughputPerHour: throughput,
		AverageWaitSec:    avgWait,
		Queued:            queued,
		Active:            active,
	}
}

// PrepareShutdown stops accepting new work, cancels any pending debounced
// position broadcast, and discards queued-but-not-started batches with a
// warning listing their ids. Already-active batches continue to completion
// or timeout.
func (m *Manager) PrepareShutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	discarded := make([]string, 0, len(m.queue))
	for _, qj := range m.queue {
		discarded = append(discarded, qj.job.BatchID)
	}
	m.queue = nil
	m.mu.Unlock()

	m.debounceMu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debouncePend = false
	m.debounceMu.Unlock()

	metrics.QueueDepth.Set(0)
	if len(discarded) > 0 {
		m.log.Warn("queue: discarding queued batches on shutdown", "batchIds", discarded)
	}
	m.log.Info("queue: shutdown prepared, no longer accepting batches")
}

// WaitForActiveBatches blocks until every active batch has released, the
// configured graceful-shutdown window elapses, or ctx is canceled,
// whichever comes first, logging the remaining active count every 10
// seconds while it waits.
func (m *Manager) WaitForActiveBatches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.shutdownWG.Wait()
		close(done)
	}()

	timeout := time.NewTimer(m.cfg.GracefulShutdownTimeout)
	defer timeout.Stop()
	progress := time.NewTicker(10 * time.Second)
	defer progress.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-progress.C:
			m.mu.Lock()
			remaining := len(m.active)
			m.mu.Unlock()
			m.log.Info("queue: waiting for active batches to drain", "remaining", remaining)
		case <-timeout.C:
			return fmt.Errorf("queue: graceful shutdown timed out after %s", m.cfg.GracefulShutdownTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResetMetrics zeroes lifetime counters and the rolling duration sample.
// Queue contents and active batches are untouched.
func (m *Manager) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = Counters{}
	m.durations = ring.New(durationRingSize)
	m.durationCount = 0
	m.startedAt = time.Now()
}

func (m *Manager) publish(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
