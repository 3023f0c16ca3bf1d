// Package netwatch turns periodic connectivity probes into online/offline
// transitions.
package netwatch

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

// Prober reports whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber considers the network up when URL answers at all.
type HTTPProber struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (p HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor probes on an interval and reports changes.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *log.Logger
}

// NewMonitor creates a Monitor. If logger is nil, a default logger writing
// to stderr is used.
func NewMonitor(p Prober, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[netwatch] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{prober: p, interval: interval, logger: logger}
}

// Watch sends the initial state and then every change until ctx is done,
// when the channel is closed.
func (m *Monitor) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		last := m.prober.Probe(ctx)
		m.logger.Printf("Connectivity: %s", state(last))
		select {
		case out <- last:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := m.prober.Probe(ctx)
				if now == last {
					continue
				}
				last = now
				m.logger.Printf("Connectivity changed: %s", state(now))
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func state(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
