package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/model"
)

// Endpoints probed through a candidate proxy before the real handshake. One
// success is enough to accept the proxy.
var preflightEndpoints = []string{
	"https://api.binance.com/api/v3/ping",
	"https://www.google.com/generate_204",
	"https://api.kucoin.com/api/v1/timestamp",
}

const preflightProbeTimeout = 6 * time.Second

// ProxyChecker runs reachability pre-flights for configured proxies and
// caches the verdict per normalized descriptor so repeated connects don't
// re-probe. A changed descriptor is a new cache key, which is the
// invalidation.
type ProxyChecker struct {
	mu      sync.Mutex
	results map[string]bool

	// probe is swapped in tests.
	probe func(ctx context.Context, proxyURL, endpoint string) error
}

func NewProxyChecker() *ProxyChecker {
	return &ProxyChecker{
		results: make(map[string]bool),
		probe:   probeThroughProxy,
	}
}

// normalizeProxy builds the canonical descriptor and URL for a proxy spec.
func normalizeProxy(spec model.ProxySpec) (descriptor, proxyURL string) {
	scheme := spec.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", spec.Host, spec.Port)}
	if spec.Username != "" {
		u.User = url.UserPassword(spec.Username, spec.Password)
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, spec.Username, spec.Host, spec.Port), u.String()
}

// Check verifies the proxy can reach at least one well-known endpoint.
// Probes run in parallel; the first success settles the verdict. A cached
// verdict short-circuits the probes entirely.
func (p *ProxyChecker) Check(ctx context.Context, spec model.ProxySpec) (string, error) {
	if !spec.Configured() {
		return "", nil
	}
	descriptor, proxyURL := normalizeProxy(spec)

	p.mu.Lock()
	if passed, ok := p.results[descriptor]; ok {
		p.mu.Unlock()
		if !passed {
			return "", fmt.Errorf("proxy %s failed a previous pre-flight", descriptor)
		}
		return proxyURL, nil
	}
	p.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, preflightProbeTimeout)
	defer cancel()

	results := make(chan error, len(preflightEndpoints))
	for _, endpoint := range preflightEndpoints {
		go func(endpoint string) {
			results <- p.probe(probeCtx, proxyURL, endpoint)
		}(endpoint)
	}

	var lastErr error
	for i := 0; i < len(preflightEndpoints); i++ {
		err := <-results
		if err == nil {
			cancel() // remaining probes are moot
			p.store(descriptor, true)
			logger.WithField("proxy", descriptor).Info("proxy pre-flight passed")
			return proxyURL, nil
		}
		lastErr = err
	}

	p.store(descriptor, false)
	logger.WithError(lastErr).WithField("proxy", descriptor).Error("proxy pre-flight failed on every endpoint")
	return "", fmt.Errorf("proxy pre-flight failed: %w", lastErr)
}

// Forget drops the cached verdict, forcing the next Check to re-probe.
func (p *ProxyChecker) Forget(spec model.ProxySpec) {
	descriptor, _ := normalizeProxy(spec)
	p.mu.Lock()
	delete(p.results, descriptor)
	p.mu.Unlock()
}

func (p *ProxyChecker) store(descriptor string, passed bool) {
	p.mu.Lock()
	p.results[descriptor] = passed
	p.mu.Unlock()
}

func probeThroughProxy(ctx context.Context, proxyURL, endpoint string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	client := &http.Client{
		Timeout:   preflightProbeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", endpoint, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}
