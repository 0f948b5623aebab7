package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober checks whether the gateway answers HTTP on its loopback port.
// Only a 200 response counts as ready; errors and other statuses do not.
type Prober struct {
	URL      string
	Attempts int
	Interval time.Duration
	client   *http.Client
}

// NewProber creates a readiness prober against the gateway port.
func NewProber(port, attempts int, interval time.Duration) *Prober {
	if attempts <= 0 {
		attempts = 60
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Prober{
		URL:      fmt.Sprintf("http://127.0.0.1:%d/", port),
		Attempts: attempts,
		Interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Check performs a single liveness probe.
func (p *Prober) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitReady polls until the gateway answers, the attempt budget runs
// out, or ctx is done.
func (p *Prober) WaitReady(ctx context.Context) error {
	for i := 0; i < p.Attempts; i++ {
		if p.Check(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return ErrNotReady
}
