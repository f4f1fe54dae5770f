package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/logging"
)

type fixedSource struct {
	snap lock.Snapshot
	ok   bool
}

func (f fixedSource) TryState() (lock.Snapshot, bool) {
	return f.snap, f.ok
}

func TestCollectorFromLiveManager(t *testing.T) {
	lm := lock.NewLockManagerWithConfig(lock.Config{Logger: logging.NewLogger(io.Discard, logging.Config{})})
	lm.AcquireLevel0(1)
	lm.AcquireLevel0(1)
	lm.AcquireLevel0(2)
	lm.AcquireLevel1(5)

	c := NewCollector(lm, "test")
	expected := `
# HELP locklevels_level0_holders Sum of level-0 hold counts over all keys.
# TYPE locklevels_level0_holders gauge
locklevels_level0_holders{manager="test"} 3
# HELP locklevels_level1_holders Keys held at level 1.
# TYPE locklevels_level1_holders gauge
locklevels_level1_holders{manager="test"} 1
# HELP locklevels_acquired_total Lock acquisitions completed, per level.
# TYPE locklevels_acquired_total counter
locklevels_acquired_total{level="0",manager="test"} 3
locklevels_acquired_total{level="1",manager="test"} 1
locklevels_acquired_total{level="2",manager="test"} 0
locklevels_acquired_total{level="3",manager="test"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"locklevels_level0_holders", "locklevels_level1_holders", "locklevels_acquired_total"))
}

func TestCollectorBusy(t *testing.T) {
	c := NewCollector(fixedSource{ok: false}, "test")
	require.Equal(t, 1, testutil.CollectAndCount(c))

	expected := `
# HELP locklevels_busy 1 when the scrape found a structural section holding the manager.
# TYPE locklevels_busy gauge
locklevels_busy{manager="test"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollectorCounts(t *testing.T) {
	// busy, 4x acquired, 4x waited, faults, four gauges
	c := NewCollector(fixedSource{ok: true}, "test")
	require.Equal(t, 14, testutil.CollectAndCount(c))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	snap := lock.Snapshot{Level3Pending: 2}
	require.NoError(t, reg.Register(NewCollector(fixedSource{snap: snap, ok: true}, "graph")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `locklevels_level3_pending{manager="graph"} 2`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
