package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"locklevels/pkg/concurrency/lock"
)

// Report summarises a run.
type Report struct {
	Workers int
	Keys    int
	Elapsed time.Duration

	// Ops counts completed operations, indexed by OpKind.
	Ops [numOpKinds]uint64

	// StructuralSkipped counts structural picks the rate limiter turned
	// into checkpoints.
	StructuralSkipped uint64

	// Final is the manager state after the run, nil if it could not be
	// taken without blocking.
	Final *lock.Snapshot
}

func (r *Report) TotalOps() uint64 {
	var total uint64
	for _, n := range r.Ops {
		total += n
	}
	return total
}

// Throughput returns completed operations per second.
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.TotalOps()) / r.Elapsed.Seconds()
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d workers over %d keys for %s: %s ops (%s ops/s)\n",
		r.Workers, r.Keys, r.Elapsed.Round(time.Millisecond),
		humanize.Comma(int64(r.TotalOps())), humanize.CommafWithDigits(r.Throughput(), 1))
	for k := OpRead; k < numOpKinds; k++ {
		fmt.Fprintf(&b, "  %-10s %s\n", k, humanize.Comma(int64(r.Ops[k])))
	}
	if r.StructuralSkipped > 0 {
		fmt.Fprintf(&b, "  %s structural ops rate-limited into checkpoints\n",
			humanize.Comma(int64(r.StructuralSkipped)))
	}
	if r.Final != nil {
		stats := r.Final.Stats
		fmt.Fprintf(&b, "  contended waits: l0=%s l1=%s l2=%s l3=%s\n",
			humanize.Comma(int64(stats.Waited[lock.Level0])),
			humanize.Comma(int64(stats.Waited[lock.Level1])),
			humanize.Comma(int64(stats.Waited[lock.Level2])),
			humanize.Comma(int64(stats.Waited[lock.Level3])))
	}
	return b.String()
}
