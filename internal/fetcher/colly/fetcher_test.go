package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

type recordingGovernor struct {
	mu       sync.Mutex
	acquires []string
	reports  []error
	denyWith error
}

func (g *recordingGovernor) Acquire(_ context.Context, host string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquires = append(g.acquires, host)
	return g.denyWith
}

func (g *recordingGovernor) Report(_ string, _ time.Duration, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append(g.reports, err)
}

func TestFetchReturnsBodyAndReportsSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>EC0217</html>"))
	}))
	defer srv.Close()

	gov := &recordingGovernor{}
	f := New(Config{UserAgent: "renec-harvester/1.0", Timeout: 5 * time.Second}, gov)

	resp, err := f.Fetch(context.Background(), registry.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>EC0217</html>", string(resp.Body))
	require.Positive(t, resp.Duration)

	require.Len(t, gov.acquires, 1)
	require.Len(t, gov.reports, 1)
	require.NoError(t, gov.reports[0])
}

func TestFetchWrapsHTTPErrorAsUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gov := &recordingGovernor{}
	f := New(Config{Timeout: 5 * time.Second}, gov)

	_, err := f.Fetch(context.Background(), registry.FetchRequest{URL: srv.URL})
	var upstream *registry.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)

	// The failure is reported so the breaker can count it.
	require.Len(t, gov.reports, 1)
	require.Error(t, gov.reports[0])
}

func TestFetchDeniedByGovernorSkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gov := &recordingGovernor{denyWith: registry.ErrBreakerOpen}
	f := New(Config{Timeout: 5 * time.Second}, gov)

	_, err := f.Fetch(context.Background(), registry.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, registry.ErrBreakerOpen)
	require.Zero(t, hits)
	require.Empty(t, gov.reports)
}

func TestFetchRejectsURLWithoutHost(t *testing.T) {
	t.Parallel()

	f := New(Config{}, &recordingGovernor{})
	_, err := f.Fetch(context.Background(), registry.FetchRequest{URL: "/relative/path"})
	require.Error(t, err)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	host, err := hostOf("https://conocer.gob.mx/renec/estandares?page=2")
	require.NoError(t, err)
	require.Equal(t, "conocer.gob.mx", host)
}
