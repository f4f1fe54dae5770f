// Package harness drives a LockManager with a randomized workload and checks
// that it keeps its invariants and keeps making progress.
//
// The manager never times out, so the harness watches every blocking
// acquisition from the outside: a worker that stays inside one acquire for
// longer than Config.StallTimeout is reported as a liveness failure together
// with a snapshot of the manager. Detection timeouts exist only here.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"locklevels/pkg/concurrency/lock"
	dberror "locklevels/pkg/error"
	"locklevels/pkg/logging"
)

// OpKind is one kind of workload operation.
type OpKind int

const (
	// OpRead takes level 0 on a key, sometimes twice.
	OpRead OpKind = iota
	// OpWrite takes level 1 on a key.
	OpWrite
	// OpCheckpoint takes level 1 on a key, then level 2.
	OpCheckpoint
	// OpStructural takes level 1, level 2, then level 3.
	OpStructural

	numOpKinds = 4
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCheckpoint:
		return "checkpoint"
	case OpStructural:
		return "structural"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Mix weights the operation kinds. Zero weights disable a kind.
type Mix struct {
	Read       int
	Write      int
	Checkpoint int
	Structural int
}

func (m Mix) total() int {
	return m.Read + m.Write + m.Checkpoint + m.Structural
}

func (m Mix) pick(r *rand.Rand) OpKind {
	n := r.IntN(m.total())
	switch {
	case n < m.Read:
		return OpRead
	case n < m.Read+m.Write:
		return OpWrite
	case n < m.Read+m.Write+m.Checkpoint:
		return OpCheckpoint
	default:
		return OpStructural
	}
}

// Config describes a run. Either Duration or OpsPerWorker bounds it; when
// both are set the first reached ends the run.
type Config struct {
	Workers      int
	Keys         int
	Duration     time.Duration
	OpsPerWorker int
	Mix          Mix

	// StructuralRate caps structural operations per second across all
	// workers. A structural pick denied by the limiter runs as a
	// checkpoint instead. Zero means unlimited.
	StructuralRate  float64
	StructuralBurst int

	// StallTimeout is how long one acquisition may block before the run is
	// declared stuck.
	StallTimeout time.Duration

	Seed uint64
}

// DefaultConfig returns a short, read-heavy run.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		Keys:            32,
		Duration:        2 * time.Second,
		Mix:             Mix{Read: 60, Write: 25, Checkpoint: 10, Structural: 5},
		StructuralRate:  200,
		StructuralBurst: 4,
		StallTimeout:    5 * time.Second,
		Seed:            1,
	}
}

// Validate checks that cfg describes a runnable workload.
func (cfg Config) Validate() error {
	switch {
	case cfg.Workers <= 0:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_WORKERS", "workers must be positive")
	case cfg.Keys <= 0:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_KEYS", "keys must be positive")
	case cfg.Duration <= 0 && cfg.OpsPerWorker <= 0:
		return dberror.New(dberror.ErrCategoryConfig, "UNBOUNDED_RUN", "either duration or ops per worker must be set")
	case cfg.Mix.Read < 0 || cfg.Mix.Write < 0 || cfg.Mix.Checkpoint < 0 || cfg.Mix.Structural < 0:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_MIX", "operation weights must not be negative")
	case cfg.Mix.total() == 0:
		return dberror.New(dberror.ErrCategoryConfig, "EMPTY_MIX", "at least one operation weight must be positive")
	case cfg.StallTimeout <= 0:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_STALL_TIMEOUT", "stall timeout must be positive")
	case cfg.StructuralRate < 0:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_STRUCTURAL_RATE", "structural rate must not be negative")
	}
	return nil
}

// probe records what a worker is blocked on, for the watchdog.
type probe struct {
	since atomic.Int64 // unix nanos the current acquire started, 0 when idle
	level atomic.Int32
	key   atomic.Int64
}

// shadow mirrors what the workload believes is held, to cross-check the
// manager's admissions.
type shadow struct {
	readers     []atomic.Int32
	writers     []atomic.Int32
	freeWriters atomic.Int32 // level-1 holders not inside level 2
	level2      atomic.Int32
	level3      atomic.Int32
}

type runner struct {
	cfg     Config
	lm      *lock.LockManager
	limiter *rate.Limiter
	probes  []probe
	shadow  shadow
	ops     [numOpKinds]atomic.Uint64
	skipped atomic.Uint64
	log     *slog.Logger
}

// Run executes the workload against lm and returns a report. It returns a
// liveness LockError if an acquisition stalls, or an invariant LockError if
// the manager admits conflicting holders. After a stall the stuck workers
// cannot be interrupted and are left blocked.
func Run(ctx context.Context, lm *lock.LockManager, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.StructuralRate > 0 {
		limit = rate.Limit(cfg.StructuralRate)
	}
	r := &runner{
		cfg:     cfg,
		lm:      lm,
		limiter: rate.NewLimiter(limit, max(cfg.StructuralBurst, 1)),
		probes:  make([]probe, cfg.Workers),
		log:     logging.WithComponent("harness"),
	}
	r.shadow.readers = make([]atomic.Int32, cfg.Keys)
	r.shadow.writers = make([]atomic.Int32, cfg.Keys)

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	r.log.Info("stress run starting",
		"workers", cfg.Workers, "keys", cfg.Keys, "duration", cfg.Duration,
		"ops_per_worker", cfg.OpsPerWorker, "structural_rate", cfg.StructuralRate)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for id := range cfg.Workers {
		g.Go(func() error { return r.work(gctx, id) })
	}

	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	stalled := make(chan error, 1)
	stopWatch := make(chan struct{})
	var watch sync.WaitGroup
	watch.Add(1)
	go func() {
		defer watch.Done()
		r.watchdog(stopWatch, stalled)
	}()

	var runErr error
	select {
	case runErr = <-finished:
	case runErr = <-stalled:
	}
	close(stopWatch)
	watch.Wait()

	report := r.report(time.Since(start))
	if runErr != nil {
		logging.WithError(runErr).Error("stress run failed", "elapsed", report.Elapsed)
		return report, runErr
	}
	r.log.Info("stress run finished", "ops", report.TotalOps(), "elapsed", report.Elapsed)
	return report, nil
}

func (r *runner) work(ctx context.Context, id int) error {
	rng := rand.New(rand.NewPCG(r.cfg.Seed, uint64(id)+1))
	log := logging.WithWorker(id)
	n := 0
	defer func() { log.Debug("worker stopped", "ops", n) }()

	for ; r.cfg.OpsPerWorker <= 0 || n < r.cfg.OpsPerWorker; n++ {
		if ctx.Err() != nil {
			return nil
		}
		kind := r.cfg.Mix.pick(rng)
		if kind == OpStructural && !r.limiter.Allow() {
			r.skipped.Add(1)
			kind = OpCheckpoint
		}
		key := rng.IntN(r.cfg.Keys)
		if err := r.do(id, kind, key, rng); err != nil {
			return errors.Wrapf(err, "worker %d %s on key %d", id, kind, key)
		}
		r.ops[kind].Add(1)
	}
	return nil
}

// acquire runs one blocking acquisition with the worker's probe armed.
func (r *runner) acquire(worker int, level lock.Level, key int, fn func()) {
	p := &r.probes[worker]
	p.level.Store(int32(level))
	p.key.Store(int64(key))
	p.since.Store(time.Now().UnixNano())
	fn()
	p.since.Store(0)
}

func (r *runner) do(worker int, kind OpKind, key int, rng *rand.Rand) error {
	switch kind {
	case OpRead:
		return r.read(worker, key, rng.IntN(4) == 0)
	case OpWrite:
		return r.write(worker, key, nil)
	case OpCheckpoint:
		return r.write(worker, key, func() error { return r.checkpoint(worker, nil) })
	case OpStructural:
		return r.write(worker, key, func() error {
			return r.checkpoint(worker, func() error { return r.structural(worker) })
		})
	}
	return nil
}

func (r *runner) read(worker, key int, reenter bool) error {
	r.acquire(worker, lock.Level0, key, func() { r.lm.AcquireLevel0(key) })
	defer r.lm.ReleaseLevel0(key)

	r.shadow.readers[key].Add(1)
	defer r.shadow.readers[key].Add(-1)
	if w := r.shadow.writers[key].Load(); w != 0 {
		return r.violation("LEVEL0_WITH_WRITER", lock.Level0, key,
			fmt.Sprintf("level 0 admitted while %d level-1 holders exist", w))
	}

	if reenter {
		r.acquire(worker, lock.Level0, key, func() { r.lm.AcquireLevel0(key) })
		runtime.Gosched()
		r.lm.ReleaseLevel0(key)
	}
	runtime.Gosched()
	return nil
}

// write holds level 1 on key and runs inner, if any, while holding it.
func (r *runner) write(worker, key int, inner func() error) error {
	r.acquire(worker, lock.Level1, key, func() { r.lm.AcquireLevel1(key) })
	defer r.lm.ReleaseLevel1(key)

	if n := r.shadow.writers[key].Add(1); n != 1 {
		r.shadow.writers[key].Add(-1)
		return r.violation("LEVEL1_SHARED", lock.Level1, key,
			fmt.Sprintf("%d level-1 holders on one key", n))
	}
	defer r.shadow.writers[key].Add(-1)
	if rd := r.shadow.readers[key].Load(); rd != 0 {
		return r.violation("LEVEL1_WITH_READERS", lock.Level1, key,
			fmt.Sprintf("level 1 admitted while %d level-0 holders exist", rd))
	}

	// freeWriters is raised only while this holder is outside level 2, and
	// lowered before it enters level 2 or releases level 1.
	r.shadow.freeWriters.Add(1)
	runtime.Gosched()
	r.shadow.freeWriters.Add(-1)
	if inner == nil {
		return nil
	}

	err := inner()
	r.shadow.freeWriters.Add(1)
	runtime.Gosched()
	r.shadow.freeWriters.Add(-1)
	return err
}

func (r *runner) checkpoint(worker int, inner func() error) error {
	r.acquire(worker, lock.Level2, -1, r.lm.AcquireLevel2)
	defer r.lm.ReleaseLevel2()

	if n := r.shadow.level2.Add(1); n != 1 {
		r.shadow.level2.Add(-1)
		return r.violation("LEVEL2_SHARED", lock.Level2, -1, fmt.Sprintf("%d level-2 holders", n))
	}
	defer r.shadow.level2.Add(-1)

	runtime.Gosched()
	if inner == nil {
		return nil
	}
	return inner()
}

func (r *runner) structural(worker int) error {
	var guard *lock.Level3Guard
	r.acquire(worker, lock.Level3, -1, func() { guard = r.lm.AcquireLevel3() })
	defer guard.Release()

	if n := r.shadow.level3.Add(1); n != 1 {
		r.shadow.level3.Add(-1)
		return r.violation("LEVEL3_SHARED", lock.Level3, -1, fmt.Sprintf("%d level-3 holders", n))
	}
	defer r.shadow.level3.Add(-1)

	if free := r.shadow.freeWriters.Load(); free != 0 {
		return r.violation("LEVEL3_NOT_QUIESCED", lock.Level3, -1,
			fmt.Sprintf("%d level-1 holders outside level 2", free))
	}
	state := guard.State()
	if len(state.Level1Holders) > state.Level2Attempts {
		return r.violation("LEVEL3_NOT_QUIESCED", lock.Level3, -1, state.String())
	}
	return nil
}

func (r *runner) violation(code string, level lock.Level, key int, detail string) error {
	err := dberror.New(dberror.ErrCategoryInvariant, code, "lock invariant violated").WithDetail(detail)
	err.Operation = "Run"
	err.Component = "harness"
	err.Level = int(level)
	if key >= 0 {
		err.Key, err.Keyed = key, true
	}
	return err
}

// watchdog reports the first worker stuck in one acquisition for longer than
// the stall timeout.
func (r *runner) watchdog(stop <-chan struct{}, stalled chan<- error) {
	tick := time.NewTicker(max(r.cfg.StallTimeout/4, time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-tick.C:
			for id := range r.probes {
				p := &r.probes[id]
				since := p.since.Load()
				if since == 0 || now.Sub(time.Unix(0, since)) < r.cfg.StallTimeout {
					continue
				}
				stalled <- r.stallError(id, p)
				return
			}
		}
	}
}

func (r *runner) stallError(worker int, p *probe) error {
	err := dberror.New(dberror.ErrCategoryLiveness, "ACQUIRE_STALLED",
		fmt.Sprintf("worker %d blocked longer than %s", worker, r.cfg.StallTimeout))
	err.Operation = fmt.Sprintf("AcquireLevel%d", p.level.Load())
	err.Component = "harness"
	err.Level = int(p.level.Load())
	if key := p.key.Load(); key >= 0 {
		err.Key, err.Keyed = int(key), true
	}
	if state, ok := r.lm.TryState(); ok {
		err.Detail = state.String()
	} else {
		err.Detail = "manager mutex held (level-3 section in progress)"
	}
	return err
}

func (r *runner) report(elapsed time.Duration) *Report {
	rep := &Report{
		Workers:           r.cfg.Workers,
		Keys:              r.cfg.Keys,
		Elapsed:           elapsed,
		StructuralSkipped: r.skipped.Load(),
	}
	for k := range rep.Ops {
		rep.Ops[k] = r.ops[k].Load()
	}
	if state, ok := r.lm.TryState(); ok {
		rep.Final = &state
	}
	return rep
}
