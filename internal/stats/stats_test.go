package stats

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Counter("gc.minor").Inc()
	r.Counter("gc.minor").Add(2)
	assert.Equal(t, int64(3), r.Counter("gc.minor").Get())

	tm := r.Timer("release")
	assert.False(t, tm.Running())
	tm.Start()
	assert.True(t, tm.Running())
	time.Sleep(time.Millisecond)
	d := tm.Stop()
	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, int64(1), tm.Count())
	assert.Equal(t, d, tm.Total())
	assert.Zero(t, tm.Stop(), "stopping an idle timer is a no-op")

	snap := r.Snapshot()
	assert.Equal(t, 3.0, snap["gc.minor"])
	assert.Contains(t, snap, "release_ms")

	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "gc.minor 3\n"))
}

func TestStartMetricsServer(t *testing.T) {
	r := NewRegistry()
	r.Counter("collections").Add(7)
	addr, stop, err := StartMetricsServer("127.0.0.1:0", map[string]MetricFunc{"gc": r.Snapshot})
	require.NoError(t, err)
	defer func() { _ = stop(context.Background()) }()

	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	assert.Contains(t, lines, "gc_collections 7")
}

func TestMetricToken(t *testing.T) {
	assert.Equal(t, "gc_write_barrier_slow", metricToken("gc.write barrier..slow"))
	assert.Equal(t, "_9lives", metricToken("9lives"))
}
