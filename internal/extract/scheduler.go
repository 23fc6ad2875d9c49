// Package extract coordinates log extraction across every targeted device:
// a bounded worker pool drains devices over the wireless transport while a
// separate pool converts completed logs, so slow conversion never stalls a
// radio exchange.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"movesense-agent/internal/ble"
	"movesense-agent/internal/fetch"
	"movesense-agent/internal/model"
)

// Converter turns a device's fetched logs into persisted tabular output.
// Called off the scheduling path.
type Converter interface {
	ConvertDevice(ctx context.Context, device string, logs []model.FetchedLog) (ConversionResult, error)
}

// ConversionResult reports what a conversion produced.
type ConversionResult struct {
	Records int
	Paths   []string
}

// Options bound the scheduler's concurrency and retry behavior.
type Options struct {
	// Workers is the worker pool size C.
	Workers int
	// Transactions limits concurrent command/notification exchanges (S).
	// The radio is effectively serial even when bookkeeping is parallel.
	Transactions int64
	// ConvertWorkers sizes the conversion pool.
	ConvertWorkers int
	// MaxDeviceAttempts bounds how often one device may be selected before
	// it is declared failed.
	MaxDeviceAttempts int
	// MaxIdleRounds bounds how long workers wait for absent devices to
	// reappear before declaring them not found.
	MaxIdleRounds int
	// SelectionBackoff separates selection rounds when nothing is eligible.
	SelectionBackoff time.Duration
	// ScanInterval drives periodic re-discovery while the run is active.
	ScanInterval time.Duration
	Drain        fetch.DrainOptions
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Transactions <= 0 || o.Transactions > int64(o.Workers) {
		o.Transactions = int64(o.Workers)
	}
	if o.ConvertWorkers <= 0 {
		o.ConvertWorkers = 4
	}
	if o.MaxDeviceAttempts <= 0 {
		o.MaxDeviceAttempts = 3
	}
	if o.MaxIdleRounds <= 0 {
		o.MaxIdleRounds = 10
	}
	if o.SelectionBackoff <= 0 {
		o.SelectionBackoff = time.Second
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = 10 * time.Second
	}
	return o
}

// deviceEntry is the scheduler's private state for one targeted device.
// Fields are guarded by Scheduler.mu.
type deviceEntry struct {
	suffix     string
	name       string
	address    string
	discovered bool
	state      model.DeviceState
	failure    model.FailureClass
	attempts   int
	attempted  bool
	logs       int
	records    int
	paths      []string
	convErr    string
}

type convJob struct {
	idx  int
	logs []model.FetchedLog
}

// Scheduler runs the extraction across all targeted devices.
type Scheduler struct {
	logger    *slog.Logger
	scanner   ble.Scanner
	dialer    ble.Dialer
	converter Converter
	opts      Options

	mu      sync.Mutex
	entries []*deviceEntry
	busy    map[int]bool
	rng     *rand.Rand

	txn *semaphore.Weighted
}

// New builds a scheduler targeting the given device name suffixes.
func New(suffixes []string, scanner ble.Scanner, dialer ble.Dialer, converter Converter, opts Options, logger *slog.Logger) *Scheduler {
	opts = opts.withDefaults()
	entries := make([]*deviceEntry, 0, len(suffixes))
	for _, suffix := range suffixes {
		entries = append(entries, &deviceEntry{suffix: suffix, state: model.StatePending})
	}
	return &Scheduler{
		logger:    logger,
		scanner:   scanner,
		dialer:    dialer,
		converter: converter,
		opts:      opts,
		entries:   entries,
		busy:      make(map[int]bool),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		txn:       semaphore.NewWeighted(opts.Transactions),
	}
}

// Run drives the extraction until every targeted device is completed or
// failed, then returns the run report. Cancellation unwinds promptly.
func (s *Scheduler) Run(ctx context.Context) (model.RunReport, error) {
	report := model.RunReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	s.logger.Info("extraction run starting", "run_id", report.RunID, "devices", len(s.entries), "workers", s.opts.Workers)

	if err := s.refreshDiscovery(ctx); err != nil {
		s.logger.Warn("initial discovery failed", "error", err)
	}

	scanCtx, stopScan := context.WithCancel(ctx)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		s.scanLoop(scanCtx)
	}()

	convCh := make(chan convJob, s.opts.Workers)
	var convG errgroup.Group
	for i := 0; i < s.opts.ConvertWorkers; i++ {
		convG.Go(func() error {
			s.convertLoop(ctx, convCh)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return s.runWorker(gctx, worker, convCh)
		})
	}
	runErr := g.Wait()

	stopScan()
	<-scanDone
	close(convCh)
	_ = convG.Wait()

	report.FinishedAt = time.Now().UTC()
	report.Devices = s.deviceReports()
	s.logger.Info("extraction run finished",
		"run_id", report.RunID,
		"completed", report.Completed(),
		"devices", len(report.Devices))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return report, runErr
	}
	return report, ctx.Err()
}

// runWorker selects eligible devices until every target is terminal. A
// worker never reselects the device from its immediately preceding cycle
// when an alternative exists.
func (s *Scheduler) runWorker(ctx context.Context, worker int, convCh chan<- convJob) error {
	logger := s.logger.With("worker", worker)
	last := -1
	idleRounds := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx, done := s.selectDevice(last)
		if done {
			return nil
		}
		if idx < 0 {
			idleRounds++
			if idleRounds >= s.opts.MaxIdleRounds {
				s.failUndiscovered(logger)
				idleRounds = 0
			}
			sleepWithContext(ctx, s.opts.SelectionBackoff)
			continue
		}
		idleRounds = 0
		last = idx

		s.processDevice(ctx, idx, convCh, logger)
	}
}

// selectDevice picks an eligible device under the selection lock, marking it
// busy before release. Returns (-1, false) when nothing is eligible now and
// (-1, true) when every device is terminal.
func (s *Scheduler) selectDevice(last int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []int
	allTerminal := true
	for i, e := range s.entries {
		if e.state.Terminal() {
			continue
		}
		allTerminal = false
		if s.busy[i] || !e.discovered {
			continue
		}
		eligible = append(eligible, i)
	}
	if allTerminal {
		return -1, true
	}
	// Skip the worker's previous device when it has an alternative, so one
	// device flapping in and out of range cannot starve the rest.
	if last >= 0 && len(eligible) > 1 {
		for i, idx := range eligible {
			if idx == last {
				eligible = append(eligible[:i], eligible[i+1:]...)
				break
			}
		}
	}
	if len(eligible) == 0 {
		return -1, false
	}
	idx := eligible[s.rng.Intn(len(eligible))]
	s.busy[idx] = true
	s.entries[idx].state = model.StateBusy
	s.entries[idx].attempts++
	return idx, false
}

// processDevice runs one drain cycle for the selected device and folds the
// outcome into its state. The busy mark is always released.
func (s *Scheduler) processDevice(ctx context.Context, idx int, convCh chan<- convJob, logger *slog.Logger) {
	s.mu.Lock()
	suffix := s.entries[idx].suffix
	name := s.entries[idx].name
	address := s.entries[idx].address
	discovered := s.entries[idx].discovered
	s.mu.Unlock()

	logger = logger.With("device", suffix)

	if !discovered {
		// Vanished between eligibility check and processing.
		s.finishAttempt(idx, attemptOutcome{})
		return
	}

	if err := s.txn.Acquire(ctx, 1); err != nil {
		s.release(idx)
		return
	}
	res, err := s.drainOnce(ctx, address, suffix, logger)
	s.txn.Release(1)

	// At least one fetched log counts as success even when the session
	// ended on a disconnect afterwards.
	if len(res.Logs) == 0 {
		if err != nil {
			logger.Warn("device session failed", "error", err)
		}
		s.finishAttempt(idx, attemptOutcome{attempted: res.Attempted})
		return
	}

	for i := range res.Logs {
		res.Logs[i].DeviceName = name
	}
	logger.Info("device drained", "logs", len(res.Logs))
	s.finishAttempt(idx, attemptOutcome{attempted: true, logs: res.Logs})

	// Conversion happens off the scheduling path.
	select {
	case convCh <- convJob{idx: idx, logs: res.Logs}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) drainOnce(ctx context.Context, address, suffix string, logger *slog.Logger) (fetch.DrainResult, error) {
	conn, err := s.dialer.Connect(ctx, address)
	if err != nil {
		return fetch.DrainResult{}, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("connection close failed", "error", cerr)
		}
	}()

	res := fetch.Drain(ctx, conn, suffix, s.opts.Drain, logger)
	return res, res.LastErr
}

type attemptOutcome struct {
	attempted bool
	logs      []model.FetchedLog
}

// finishAttempt owns the state transition out of Busy.
func (s *Scheduler) finishAttempt(idx int, out attemptOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[idx]
	delete(s.busy, idx)
	if out.attempted {
		e.attempted = true
	}

	if len(out.logs) > 0 {
		e.state = model.StateCompleted
		e.failure = model.FailureNone
		e.logs += len(out.logs)
		return
	}

	if e.attempts >= s.opts.MaxDeviceAttempts {
		e.state = model.StateFailed
		e.failure = classifyFailure(e)
		return
	}
	// Not terminal yet: back to the eligible pool for a later cycle.
	if e.discovered {
		e.state = model.StateFound
	} else {
		e.state = model.StatePending
	}
}

func (s *Scheduler) release(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, idx)
	if !s.entries[idx].state.Terminal() {
		s.entries[idx].state = model.StateFound
	}
}

func classifyFailure(e *deviceEntry) model.FailureClass {
	switch {
	case !e.discovered && !e.attempted:
		return model.FailureNotFound
	case e.attempted:
		return model.FailurePartialAttempt
	default:
		return model.FailureNeverAttempted
	}
}

// failUndiscovered gives up on devices that have not reappeared after the
// idle budget. Busy devices are untouched.
func (s *Scheduler) failUndiscovered(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.state.Terminal() || s.busy[i] || e.discovered {
			continue
		}
		e.state = model.StateFailed
		e.failure = classifyFailure(e)
		logger.Warn("giving up on absent device", "device", e.suffix, "failure", e.failure)
	}
}

// scanLoop refreshes the discovered set while the run is active, so devices
// that flap back into range become eligible again.
func (s *Scheduler) scanLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.ScanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.refreshDiscovery(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("discovery scan failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) refreshDiscovery(ctx context.Context) error {
	found, err := s.scanner.Discover(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		adv, ok := matchAdvertisement(found, e.suffix)
		e.discovered = ok
		if ok {
			e.name = adv.Name
			e.address = adv.Address
			if e.state == model.StatePending {
				e.state = model.StateFound
			}
		}
	}
	return nil
}

func matchAdvertisement(found []ble.Advertisement, suffix string) (ble.Advertisement, bool) {
	for _, adv := range found {
		if strings.HasSuffix(adv.Name, suffix) {
			return adv, true
		}
	}
	return ble.Advertisement{}, false
}

// convertLoop consumes completed devices and persists their logs.
func (s *Scheduler) convertLoop(ctx context.Context, jobs <-chan convJob) {
	for job := range jobs {
		s.mu.Lock()
		suffix := s.entries[job.idx].suffix
		s.mu.Unlock()

		res, err := s.converter.ConvertDevice(ctx, suffix, job.logs)
		s.mu.Lock()
		// Partial output still counts; the error rides along in the report.
		s.entries[job.idx].records += res.Records
		s.entries[job.idx].paths = append(s.entries[job.idx].paths, res.Paths...)
		if err != nil {
			s.entries[job.idx].convErr = err.Error()
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("conversion failed", "device", suffix, "error", err)
		}
	}
}

func (s *Scheduler) deviceReports() []model.DeviceReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports := make([]model.DeviceReport, 0, len(s.entries))
	for _, e := range s.entries {
		reports = append(reports, model.DeviceReport{
			Suffix:          e.suffix,
			State:           e.state,
			Failure:         e.failure,
			LogsFetched:     e.logs,
			RecordsDecoded:  e.records,
			Attempted:       e.attempted,
			OutputPaths:     e.paths,
			ConversionError: e.convErr,
		})
	}
	return reports
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
