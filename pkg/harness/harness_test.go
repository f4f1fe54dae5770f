package harness

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locklevels/pkg/concurrency/lock"
	dberror "locklevels/pkg/error"
	"locklevels/pkg/logging"
)

func quietManager() *lock.LockManager {
	return lock.NewLockManagerWithConfig(lock.Config{
		Name:   "harness-test",
		Logger: logging.NewLogger(io.Discard, logging.Config{}),
	})
}

func TestRunRandomizedWorkloadMakesProgress(t *testing.T) {
	lm := quietManager()
	cfg := DefaultConfig()
	cfg.Duration = 0
	cfg.OpsPerWorker = 300
	cfg.StructuralRate = 0 // unlimited

	report, err := Run(context.Background(), lm, cfg)
	require.NoError(t, err)

	require.Equal(t, uint64(cfg.Workers*cfg.OpsPerWorker), report.TotalOps())
	require.NotZero(t, report.Ops[OpRead])
	require.NotZero(t, report.Ops[OpStructural])
	require.NotNil(t, report.Final)

	final := report.Final
	require.False(t, final.Level3InUse)
	require.False(t, final.Level2InUse)
	require.Zero(t, final.Level2Attempts)
	require.Empty(t, final.Level1Holders)
	for key, count := range final.Level0Holders {
		require.Zerof(t, count, "key %d still has level0 holders", key)
	}
	require.Equal(t, report.Ops[OpStructural], final.Stats.Acquired[lock.Level3])
}

func TestRunHighContention(t *testing.T) {
	lm := quietManager()
	cfg := Config{
		Workers:      16,
		Keys:         2,
		OpsPerWorker: 200,
		Mix:          Mix{Read: 3, Write: 3, Checkpoint: 2, Structural: 2},
		StallTimeout: 5 * time.Second,
		Seed:         7,
	}

	report, err := Run(context.Background(), lm, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(16*200), report.TotalOps())
}

func TestRunDurationBound(t *testing.T) {
	lm := quietManager()
	cfg := DefaultConfig()
	cfg.Duration = 100 * time.Millisecond

	start := time.Now()
	report, err := Run(context.Background(), lm, cfg)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.NotZero(t, report.TotalOps())
}

func TestRunStructuralRateLimit(t *testing.T) {
	lm := quietManager()
	cfg := Config{
		Workers:         4,
		Keys:            8,
		OpsPerWorker:    100,
		Mix:             Mix{Structural: 1},
		StructuralRate:  0.001,
		StructuralBurst: 1,
		StallTimeout:    5 * time.Second,
		Seed:            3,
	}

	report, err := Run(context.Background(), lm, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1), report.Ops[OpStructural])
	require.Equal(t, report.StructuralSkipped, report.Ops[OpCheckpoint])
}

func TestRunDetectsStall(t *testing.T) {
	lm := quietManager()
	// Misuse: a key held at level 1 forever with a level-3 request pending
	// blocks every new per-key acquisition.
	lm.AcquireLevel1(0)
	go lm.WithLevel3(func() {})

	cfg := Config{
		Workers:      2,
		Keys:         4,
		OpsPerWorker: 10,
		Mix:          Mix{Read: 1},
		StallTimeout: 100 * time.Millisecond,
		Seed:         1,
	}

	_, err := Run(context.Background(), lm, cfg)
	require.Error(t, err)

	var lockErr *dberror.LockError
	require.True(t, errors.As(err, &lockErr))
	require.Equal(t, dberror.ErrCategoryLiveness, lockErr.Category)
	require.Equal(t, "ACQUIRE_STALLED", lockErr.Code)
	require.Equal(t, int(lock.Level0), lockErr.Level)
	require.Contains(t, lockErr.Detail, "level3_in_use=1")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"INVALID_WORKERS":         func(c *Config) { c.Workers = 0 },
		"INVALID_KEYS":            func(c *Config) { c.Keys = -1 },
		"UNBOUNDED_RUN":           func(c *Config) { c.Duration = 0; c.OpsPerWorker = 0 },
		"INVALID_MIX":             func(c *Config) { c.Mix.Write = -1 },
		"EMPTY_MIX":               func(c *Config) { c.Mix = Mix{} },
		"INVALID_STALL_TIMEOUT":   func(c *Config) { c.StallTimeout = 0 },
		"INVALID_STRUCTURAL_RATE": func(c *Config) { c.StructuralRate = -2 },
	}
	for code, mutate := range cases {
		t.Run(code, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var lockErr *dberror.LockError
			require.True(t, errors.As(err, &lockErr))
			require.Equal(t, code, lockErr.Code)
			require.Equal(t, dberror.ErrCategoryConfig, lockErr.Category)
		})
	}

	_, err := Run(context.Background(), quietManager(), Config{})
	require.Error(t, err)
}

func TestReportString(t *testing.T) {
	report := &Report{
		Workers:           4,
		Keys:              8,
		Elapsed:           2 * time.Second,
		Ops:               [numOpKinds]uint64{12000, 3000, 500, 20},
		StructuralSkipped: 5,
	}

	out := report.String()
	require.True(t, strings.HasPrefix(out, "4 workers over 8 keys for 2s: 15,520 ops"))
	require.Contains(t, out, "read       12,000")
	require.Contains(t, out, "5 structural ops rate-limited")
	require.InDelta(t, 7760.0, report.Throughput(), 0.001)
}
