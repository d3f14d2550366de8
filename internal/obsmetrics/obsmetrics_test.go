package obsmetrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstallFinishedIncrementsSucceededOnNilError(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.InstallStarted()
	m.InstallFinished(0.5, nil)

	if got := counterValue(t, m.installsSucceded); got != 1 {
		t.Fatalf("expected 1 succeeded install, got %v", got)
	}
	if got := counterValue(t, m.installsFailed); got != 0 {
		t.Fatalf("expected 0 failed installs, got %v", got)
	}
}

func TestInstallFinishedIncrementsFailedOnError(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.InstallFinished(0.1, errors.New("boom"))

	if got := counterValue(t, m.installsFailed); got != 1 {
		t.Fatalf("expected 1 failed install, got %v", got)
	}
}

func TestStoreHitAndMissCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.StoreHit()
	m.StoreHit()
	m.StoreMiss(1024)

	if got := counterValue(t, m.storeCacheHits); got != 2 {
		t.Fatalf("expected 2 store hits, got %v", got)
	}
	if got := counterValue(t, m.storeCacheMisses); got != 1 {
		t.Fatalf("expected 1 store miss, got %v", got)
	}
	if got := counterValue(t, m.tarballBytes); got != 1024 {
		t.Fatalf("expected 1024 tarball bytes, got %v", got)
	}
}

func TestSnippetExecutedRecordsHitsAndErrors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SnippetExecuted(0.2, true, nil)
	m.SnippetExecuted(0.3, false, errors.New("bad output"))

	if got := counterValue(t, m.snippetCacheHits); got != 1 {
		t.Fatalf("expected 1 snippet cache hit, got %v", got)
	}
	if got := counterValue(t, m.snippetCacheMisses); got != 1 {
		t.Fatalf("expected 1 snippet cache miss, got %v", got)
	}
	if got := counterValue(t, m.snippetExecErrors); got != 1 {
		t.Fatalf("expected 1 snippet exec error, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.StoreHit()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "tz_store_cache_hits_total") {
		t.Fatalf("expected exposition text to contain our metric name, got %q", string(buf[:n]))
	}
}

func TestNoopDoesNotPanicWithoutRegistration(t *testing.T) {
	m := Noop()
	m.InstallStarted()
	m.InstallFinished(0.1, nil)
	m.ResolveFinished(0.1, false)
	m.StoreHit()
	m.SnippetExecuted(0.1, true, nil)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}
