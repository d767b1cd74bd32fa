package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"evm-swap-indexer/internal/abi"
	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/idhash"
	"evm-swap-indexer/internal/observability"
	"evm-swap-indexer/internal/storage"
)

// State is the worker's position in the sync state machine.
type State string

// Worker states. Backfilling and Live persist as checkpoint statuses;
// RollingBack is transient and persists as backfilling.
const (
	StateBackfilling State = domain.SyncStatusBackfilling
	StateLive        State = domain.SyncStatusLive
	StateRollingBack State = "rolling_back"
	StateError       State = domain.SyncStatusError
)

// EventMirror receives committed events for analytical storage. Mirror
// writes are best-effort and never block or fail sync.
type EventMirror interface {
	AppendSwaps(ctx context.Context, events []*domain.SwapEvent) error
}

// Status is a point-in-time snapshot of one worker.
type Status struct {
	Pool            ethereum.Address
	ChainID         uint64
	State           State
	LastSyncedBlock uint64
	Head            uint64
	ErrorDetail     string
}

// errStaleRange signals that the chain moved while a range was being
// fetched. The range is re-validated and re-fetched, never committed.
var errStaleRange = errors.New("block range changed during fetch")

// Worker drives ingestion for a single contract/network pair:
// backfill from the configured start block, then follow the live head,
// rolling back on reorgs. Workers for different contracts share nothing
// but the store's connection pool.
type Worker struct {
	cfg     Config
	rpc     ethereum.Client
	store   storage.SyncStore
	mirror  EventMirror
	heads   <-chan ethereum.BlockHeader
	metrics *observability.Metrics
	logger  *log.Logger

	mu         sync.Mutex
	state      State
	lastSynced uint64
	lastHash   ethereum.Hash
	head       uint64
	errDetail  string

	// recentHashes tracks committed block hashes inside the reorg window,
	// keyed by height. Used to locate the divergence point on rollback.
	recentHashes map[uint64]ethereum.Hash
}

// WorkerOptions contains configuration for creating a Worker.
type WorkerOptions struct {
	Config  Config
	RPC     ethereum.Client
	Store   storage.SyncStore
	Mirror  EventMirror                 // optional
	Heads   <-chan ethereum.BlockHeader // optional new-head notifications
	Metrics *observability.Metrics      // optional
	Logger  *log.Logger
}

// NewWorker creates a sync worker for one tracked contract.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RPC == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Worker{
		cfg:          cfg,
		rpc:          opts.RPC,
		store:        opts.Store,
		mirror:       opts.Mirror,
		heads:        opts.Heads,
		metrics:      opts.Metrics,
		logger:       logger,
		state:        StateBackfilling,
		recentHashes: make(map[uint64]ethereum.Hash),
	}, nil
}

// Run executes the sync state machine until the context is cancelled, the
// configured end block is reached, or a non-retryable failure halts the
// worker in Error state. The returned error is nil only on a completed
// bounded sync.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.restore(ctx); err != nil {
		return w.fail(err)
	}

	startupHead, err := w.headWithRetry(ctx)
	if err != nil {
		return w.fail(err)
	}
	w.setHead(startupHead)
	w.logger.Printf("[worker %s] starting: last synced %d, chain head %d",
		w.cfg.Pool.Hex(), w.lastSyncedBlock(), startupHead)

	if err := w.syncTo(ctx, w.clampTarget(startupHead)); err != nil {
		return w.fail(err)
	}

	if w.cfg.EndBlock != 0 && w.lastSyncedBlock() >= w.cfg.EndBlock {
		w.logger.Printf("[worker %s] reached end block %d, stopping",
			w.cfg.Pool.Hex(), w.cfg.EndBlock)
		return nil
	}

	w.setState(StateLive)
	w.persistStatus(ctx)
	w.logger.Printf("[worker %s] caught up to startup head %d, going live",
		w.cfg.Pool.Hex(), startupHead)

	return w.live(ctx)
}

// live follows the chain head until cancellation. Head notifications wake
// the loop early; the poll ticker is the fallback cadence.
func (w *Worker) live(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case h, ok := <-w.heads:
			if !ok {
				w.heads = nil
				continue
			}
			w.setHead(h.Number)
		}

		head, err := w.headWithRetry(ctx)
		if err != nil {
			return w.fail(err)
		}
		w.setHead(head)

		if err := w.syncTo(ctx, w.clampTarget(head)); err != nil {
			return w.fail(err)
		}

		if w.cfg.EndBlock != 0 && w.lastSyncedBlock() >= w.cfg.EndBlock {
			w.logger.Printf("[worker %s] reached end block %d, stopping",
				w.cfg.Pool.Hex(), w.cfg.EndBlock)
			return nil
		}

		// A rollback leaves the worker backfilling; once it has committed
		// back up to the head it is live again.
		if w.Status().State != StateLive && w.lastSyncedBlock() >= w.clampTarget(head) {
			w.setState(StateLive)
			w.persistStatus(ctx)
			w.logger.Printf("[worker %s] caught back up to head %d, resuming live",
				w.cfg.Pool.Hex(), head)
		}
	}
}

// syncTo advances the checkpoint to target in capped batches, validating
// the committed ancestor before each batch and rolling back on divergence.
func (w *Worker) syncTo(ctx context.Context, target uint64) error {
	for w.lastSyncedBlock() < target {
		if err := ctx.Err(); err != nil {
			return err
		}

		diverged, err := w.ancestorDiverged(ctx)
		if err != nil {
			return err
		}
		if diverged {
			if err := w.rollback(ctx); err != nil {
				return err
			}
			continue
		}

		from := w.lastSyncedBlock() + 1
		to := from + w.cfg.BatchSize - 1
		if to > target {
			to = target
		}

		err = w.step(ctx, from, to)
		if errors.Is(err, errStaleRange) {
			// The chain view shifted under us; let the next head
			// observation set a fresh target instead of spinning here.
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ancestorDiverged reports whether the canonical chain no longer carries
// the hash recorded at the last synced block.
func (w *Worker) ancestorDiverged(ctx context.Context) (bool, error) {
	last, lastHash := w.checkpointPos()
	if lastHash.IsZero() {
		return false, nil
	}

	canonical, err := w.headerWithRetry(ctx, last)
	if err != nil {
		return false, err
	}
	if canonical == nil {
		// The chain is now shorter than our checkpoint.
		return true, nil
	}
	return canonical.Hash != lastHash, nil
}

// rollback walks back from the checkpoint to the last block whose recorded
// hash still matches the canonical chain, atomically deletes everything
// above it, and regresses the checkpoint.
func (w *Worker) rollback(ctx context.Context) error {
	w.setState(StateRollingBack)
	if w.metrics != nil {
		w.metrics.ReorgsHandled.WithLabelValues(w.cfg.Pool.Hex()).Inc()
	}

	last := w.lastSyncedBlock()
	floor := uint64(0)
	if last > w.cfg.MaxReorgDepth {
		floor = last - w.cfg.MaxReorgDepth
	}
	if start := w.cfg.StartBlock - 1; floor < start {
		floor = start
	}

	var (
		ancestor     uint64
		ancestorHash ethereum.Hash
		found        bool
	)
	for h := last; h > floor && !found; h-- {
		prev := h - 1
		canonical, err := w.headerWithRetry(ctx, prev)
		if err != nil {
			return err
		}
		if canonical == nil {
			continue
		}
		known, tracked := w.recentHash(prev)
		// A block outside the tracked window cannot be proven divergent;
		// idempotent upsert makes resuming from it safe either way.
		if !tracked || known == canonical.Hash {
			ancestor, ancestorHash, found = prev, canonical.Hash, true
		}
	}
	if !found {
		return fmt.Errorf("reorg at block %d deeper than %d blocks", last, w.cfg.MaxReorgDepth)
	}

	cp := &domain.SyncCheckpoint{
		Pool:            w.cfg.Pool,
		ChainID:         w.cfg.ChainID,
		LastSyncedBlock: ancestor,
		LastSyncedHash:  ancestorHash,
		Status:          domain.SyncStatusBackfilling,
		UpdatedAt:       time.Now().UnixMilli(),
	}
	deleted, err := w.store.RollbackTo(ctx, cp)
	if err != nil {
		return fmt.Errorf("rollback to %d: %w", ancestor, err)
	}

	w.regressTo(ancestor, ancestorHash)
	w.setState(StateBackfilling)
	w.logger.Printf("[worker %s] reorg: rolled back %d rows, checkpoint regressed %d -> %d",
		w.cfg.Pool.Hex(), deleted, last, ancestor)
	return nil
}

// step fetches, decodes, and atomically commits one block range together
// with its checkpoint.
func (w *Worker) step(ctx context.Context, from, to uint64) error {
	logs, err := w.fetchLogsWithRetry(ctx, from, to)
	if err != nil {
		return err
	}

	endHeader, err := w.headerWithRetry(ctx, to)
	if err != nil {
		return err
	}
	if endHeader == nil {
		// The head regressed below the range while we were fetching.
		return errStaleRange
	}

	events, err := w.buildEvents(ctx, logs)
	if err != nil {
		return err
	}

	cp := &domain.SyncCheckpoint{
		Pool:            w.cfg.Pool,
		ChainID:         w.cfg.ChainID,
		LastSyncedBlock: to,
		LastSyncedHash:  endHeader.Hash,
		Status:          w.persistedStatus(),
		UpdatedAt:       time.Now().UnixMilli(),
	}

	start := time.Now()
	inserted, err := w.store.CommitRange(ctx, events, cp)
	if err != nil {
		return fmt.Errorf("commit blocks [%d, %d]: %w", from, to, err)
	}

	w.advance(to, endHeader.Hash, events)
	w.recordCommitMetrics(from, to, len(events), inserted, time.Since(start))

	if len(events) > 0 {
		w.logger.Printf("[worker %s] committed blocks [%d, %d]: %d events (%d new)",
			w.cfg.Pool.Hex(), from, to, len(events), inserted)
	}

	if w.mirror != nil && len(events) > 0 {
		if err := w.mirror.AppendSwaps(ctx, events); err != nil {
			if w.metrics != nil {
				w.metrics.MirrorWriteErrors.Inc()
			}
			w.logger.Printf("[worker %s] mirror write failed: %v", w.cfg.Pool.Hex(), err)
		}
	}

	return nil
}

// buildEvents decodes raw logs into swap events, resolving block timestamps
// through the header cache. Decode failures are non-retryable and halt the
// worker; a header that contradicts a log means the range went stale.
func (w *Worker) buildEvents(ctx context.Context, logs []ethereum.Log) ([]*domain.SwapEvent, error) {
	headers := make(map[uint64]*ethereum.BlockHeader)
	events := make([]*domain.SwapEvent, 0, len(logs))

	for _, l := range logs {
		if l.Removed {
			continue
		}

		hdr, ok := headers[l.BlockNumber]
		if !ok {
			var err error
			hdr, err = w.headerWithRetry(ctx, l.BlockNumber)
			if err != nil {
				return nil, err
			}
			if hdr == nil {
				return nil, errStaleRange
			}
			headers[l.BlockNumber] = hdr
		}
		if hdr.Hash != l.BlockHash {
			return nil, errStaleRange
		}

		data, err := abi.DecodeSwap(l)
		if err != nil {
			if w.metrics != nil {
				w.metrics.DecodeErrors.WithLabelValues(w.cfg.Pool.Hex()).Inc()
			}
			return nil, fmt.Errorf("block %d log %d: %w", l.BlockNumber, l.LogIndex, err)
		}

		events = append(events, &domain.SwapEvent{
			ID:             idhash.ComputeEventID(l.BlockHash, l.TxIndex, l.LogIndex),
			Pool:           l.Address,
			Sender:         data.Sender,
			Recipient:      data.Recipient,
			Amount0:        data.Amount0,
			Amount1:        data.Amount1,
			SqrtPriceX96:   data.SqrtPriceX96,
			Liquidity:      data.Liquidity,
			Tick:           data.Tick,
			BlockNumber:    l.BlockNumber,
			BlockHash:      l.BlockHash,
			BlockTimestamp: hdr.Timestamp,
			TxHash:         l.TxHash,
			TxIndex:        l.TxIndex,
			LogIndex:       l.LogIndex,
			CreatedAt:      time.Now().UnixMilli(),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

// fetchLogsWithRetry fetches one range with bounded retries and backoff.
func (w *Worker) fetchLogsWithRetry(ctx context.Context, from, to uint64) ([]ethereum.Log, error) {
	var logs []ethereum.Log
	err := w.withRetry(ctx, fmt.Sprintf("fetch logs [%d, %d]", from, to), func(ctx context.Context) error {
		defer w.observeRPC("eth_getLogs", time.Now())
		var err error
		logs, err = w.rpc.GetLogs(ctx, ethereum.FilterQuery{
			Address:   w.cfg.Pool,
			Topics:    []ethereum.Hash{abi.SwapTopic},
			FromBlock: from,
			ToBlock:   to,
		})
		return err
	})
	return logs, err
}

func (w *Worker) headerWithRetry(ctx context.Context, number uint64) (*ethereum.BlockHeader, error) {
	var hdr *ethereum.BlockHeader
	err := w.withRetry(ctx, fmt.Sprintf("fetch header %d", number), func(ctx context.Context) error {
		defer w.observeRPC("eth_getBlockByNumber", time.Now())
		var err error
		hdr, err = w.rpc.GetBlockByNumber(ctx, number)
		return err
	})
	return hdr, err
}

func (w *Worker) headWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := w.withRetry(ctx, "fetch head", func(ctx context.Context) error {
		defer w.observeRPC("eth_blockNumber", time.Now())
		var err error
		head, err = w.rpc.BlockNumber(ctx)
		return err
	})
	return head, err
}

// withRetry runs fn up to the configured attempt count with exponential
// backoff. The wait is cancellable; other workers are never blocked.
func (w *Worker) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := w.cfg.FetchRetryDelay
	var lastErr error

	for attempt := 0; attempt < w.cfg.FetchAttempts; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.FetchRetries.WithLabelValues(w.cfg.Pool.Hex()).Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > w.cfg.FetchMaxDelay {
				delay = w.cfg.FetchMaxDelay
			}
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			w.logger.Printf("[worker %s] %s failed (attempt %d/%d): %v",
				w.cfg.Pool.Hex(), op, attempt+1, w.cfg.FetchAttempts, err)
			continue
		}
		return nil
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// restore loads the persisted checkpoint, or initializes sync position from
// the configured start block when none exists.
func (w *Worker) restore(ctx context.Context) error {
	cp, err := w.store.GetCheckpoint(ctx, w.cfg.Pool, w.cfg.ChainID)
	if errors.Is(err, storage.ErrNotFound) {
		w.mu.Lock()
		w.lastSynced = w.cfg.StartBlock - 1
		w.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	w.mu.Lock()
	w.lastSynced = cp.LastSyncedBlock
	w.lastHash = cp.LastSyncedHash
	if !cp.LastSyncedHash.IsZero() {
		w.recentHashes[cp.LastSyncedBlock] = cp.LastSyncedHash
	}
	w.mu.Unlock()

	if cp.Status == domain.SyncStatusError {
		w.logger.Printf("[worker %s] previous run halted: %s; resuming from block %d",
			w.cfg.Pool.Hex(), cp.ErrorDetail, cp.LastSyncedBlock)
	}
	return nil
}

// fail transitions to Error state and persists the detail, unless the error
// is a cancellation, which is a clean shutdown.
func (w *Worker) fail(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	w.mu.Lock()
	w.state = StateError
	w.errDetail = err.Error()
	last, lastHash := w.lastSynced, w.lastHash
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.WorkerState.WithLabelValues(w.cfg.Pool.Hex()).Set(observability.StateValueError)
	}
	w.logger.Printf("[worker %s] halted: %v", w.cfg.Pool.Hex(), err)

	// The worker is stopping; persist on a fresh context so the status
	// survives shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	saveErr := w.store.SaveCheckpoint(ctx, &domain.SyncCheckpoint{
		Pool:            w.cfg.Pool,
		ChainID:         w.cfg.ChainID,
		LastSyncedBlock: last,
		LastSyncedHash:  lastHash,
		Status:          domain.SyncStatusError,
		ErrorDetail:     err.Error(),
		UpdatedAt:       time.Now().UnixMilli(),
	})
	if saveErr != nil {
		w.logger.Printf("[worker %s] persist error status: %v", w.cfg.Pool.Hex(), saveErr)
	}

	return err
}

// persistStatus saves the checkpoint with the current state, keeping the
// stored status in step with state transitions that commit nothing.
func (w *Worker) persistStatus(ctx context.Context) {
	w.mu.Lock()
	cp := &domain.SyncCheckpoint{
		Pool:            w.cfg.Pool,
		ChainID:         w.cfg.ChainID,
		LastSyncedBlock: w.lastSynced,
		LastSyncedHash:  w.lastHash,
		Status:          w.persistedStatusLocked(),
		UpdatedAt:       time.Now().UnixMilli(),
	}
	w.mu.Unlock()

	if cp.LastSyncedHash.IsZero() {
		return
	}
	if err := w.store.SaveCheckpoint(ctx, cp); err != nil {
		w.logger.Printf("[worker %s] persist status: %v", w.cfg.Pool.Hex(), err)
	}
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Pool:            w.cfg.Pool,
		ChainID:         w.cfg.ChainID,
		State:           w.state,
		LastSyncedBlock: w.lastSynced,
		Head:            w.head,
		ErrorDetail:     w.errDetail,
	}
}

// clampTarget bounds a sync target by the configured end block.
func (w *Worker) clampTarget(head uint64) uint64 {
	if w.cfg.EndBlock != 0 && w.cfg.EndBlock < head {
		return w.cfg.EndBlock
	}
	return head
}

func (w *Worker) lastSyncedBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSynced
}

func (w *Worker) checkpointPos() (uint64, ethereum.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSynced, w.lastHash
}

func (w *Worker) recentHash(number uint64) (ethereum.Hash, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.recentHashes[number]
	return h, ok
}

// advance moves the in-memory position forward after a commit and records
// the committed block hashes inside the reorg window.
func (w *Worker) advance(to uint64, hash ethereum.Hash, events []*domain.SwapEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSynced = to
	w.lastHash = hash
	w.recentHashes[to] = hash
	for _, e := range events {
		w.recentHashes[e.BlockNumber] = e.BlockHash
	}

	// Prune below the reorg window.
	if to > w.cfg.MaxReorgDepth {
		floor := to - w.cfg.MaxReorgDepth
		for n := range w.recentHashes {
			if n < floor {
				delete(w.recentHashes, n)
			}
		}
	}
}

// regressTo moves the in-memory position backward after a rollback.
func (w *Worker) regressTo(ancestor uint64, hash ethereum.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSynced = ancestor
	w.lastHash = hash
	for n := range w.recentHashes {
		if n > ancestor {
			delete(w.recentHashes, n)
		}
	}
	w.recentHashes[ancestor] = hash
}

func (w *Worker) setHead(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = n
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	if s != StateError {
		w.errDetail = ""
	}
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.WorkerState.WithLabelValues(w.cfg.Pool.Hex()).Set(stateValue(s))
	}
}

// persistedStatus maps the worker state onto a checkpoint status.
func (w *Worker) persistedStatus() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.persistedStatusLocked()
}

func (w *Worker) persistedStatusLocked() string {
	switch w.state {
	case StateLive:
		return domain.SyncStatusLive
	case StateError:
		return domain.SyncStatusError
	default:
		return domain.SyncStatusBackfilling
	}
}

func (w *Worker) observeRPC(method string, start time.Time) {
	if w.metrics != nil {
		w.metrics.RPCCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func (w *Worker) recordCommitMetrics(from, to uint64, fetched, inserted int, elapsed time.Duration) {
	if w.metrics == nil {
		return
	}
	pool := w.cfg.Pool.Hex()
	w.metrics.SwapEventsStored.WithLabelValues(pool).Add(float64(inserted))
	w.metrics.DuplicatesSkipped.WithLabelValues(pool).Add(float64(fetched - inserted))
	w.metrics.BlocksSynced.WithLabelValues(pool).Add(float64(to - from + 1))
	w.metrics.LastSyncedBlock.WithLabelValues(pool).Set(float64(to))
	w.metrics.CommitLatency.WithLabelValues(pool).Observe(elapsed.Seconds())
	w.metrics.LastSuccessfulCommit.WithLabelValues(pool).SetToCurrentTime()
}

func stateValue(s State) float64 {
	switch s {
	case StateLive:
		return observability.StateValueLive
	case StateRollingBack:
		return observability.StateValueRollingBack
	case StateError:
		return observability.StateValueError
	default:
		return observability.StateValueBackfilling
	}
}
