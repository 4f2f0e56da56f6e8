// Package collyfetcher implements the page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/registrolabs/renec-harvester/internal/metrics"
	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Governor gates requests per host. Acquire runs before the request and
// Report feeds the outcome back.
type Governor interface {
	Acquire(ctx context.Context, host string) error
	Report(host string, latency time.Duration, err error)
}

// Fetcher retrieves registry pages through a Colly collector, checking
// in with the governor around every request.
type Fetcher struct {
	cfg           Config
	governor      Governor
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, governor Governor) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		governor:      governor,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. The governor is
// consulted first; an open breaker fails fast without touching the
// network, and the outcome always flows back to the governor.
func (f *Fetcher) Fetch(ctx context.Context, request registry.FetchRequest) (registry.FetchResponse, error) {
	host, err := hostOf(request.URL)
	if err != nil {
		return registry.FetchResponse{}, err
	}
	if f.governor != nil {
		if err := f.governor.Acquire(ctx, host); err != nil {
			return registry.FetchResponse{}, err
		}
	}

	start := time.Now()
	resp, err := f.fetchOnce(ctx, request, start)
	latency := time.Since(start)

	if f.governor != nil {
		f.governor.Report(host, latency, err)
	}
	if err != nil {
		metrics.ObserveFetchFailure(host)
		return registry.FetchResponse{}, err
	}
	metrics.ObserveFetch(host, latency)
	return resp, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request registry.FetchRequest, start time.Time) (registry.FetchResponse, error) {
	var (
		result   registry.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(request, start, &result, &fetchErr)

	host, _ := hostOf(request.URL)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return registry.FetchResponse{}, &registry.UpstreamError{
			Host:       host,
			StatusCode: result.StatusCode,
			Err:        err,
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request registry.FetchRequest,
	start time.Time,
	result *registry.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	agent := request.UserAgent
	if agent == "" {
		agent = f.cfg.UserAgent
	}
	if agent != "" {
		collector.UserAgent = agent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if f.transport != nil {
		collector.WithTransport(f.transport)
	}

	collector.OnResponse(func(r *colly.Response) {
		*result = registry.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.Hostname(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
