package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservePageCountsPostsAndEmptyPages(t *testing.T) {
	before := testutil.ToFloat64(postsFetchedTotal)
	emptyBefore := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("true"))

	ObservePage(3)
	ObservePage(0)

	require.InDelta(t, before+3, testutil.ToFloat64(postsFetchedTotal), 0.001)
	require.InDelta(t, emptyBefore+1, testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("true")), 0.001)
}

func TestObserveBatch(t *testing.T) {
	before := testutil.ToFloat64(batchesTotal.WithLabelValues(BatchAbandoned))
	ObserveBatch(BatchAbandoned, 20*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(batchesTotal.WithLabelValues(BatchAbandoned)), 0.001)
}

func TestInflightGauge(t *testing.T) {
	IncInflightResolutions()
	IncInflightResolutions()
	DecInflightResolutions()
	require.InDelta(t, 1, testutil.ToFloat64(tagResolutionsInflight), 0.001)
	DecInflightResolutions()
}

func TestWriteTextfile(t *testing.T) {
	ObserveRetry("tagfetch")

	path := filepath.Join(t.TempDir(), "booru.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "booru_retries_total"))
}

func TestWriteTextfileEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, WriteTextfile(""))
}
