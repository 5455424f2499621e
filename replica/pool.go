package replica

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks whether a host accepts connections
type Prober func(ctx context.Context, host string) error

// Pool holds the hosts a loader rotates across when documents are not
// routed to specific partitions.
type Pool struct {
	hosts   []string
	healthy map[string]bool
	current int // round-robin index
	probe   Prober
	log     *zap.SugaredLogger
	mu      sync.RWMutex
}

// NewPool creates a new host pool. A nil prober dials the host as a TCP
// address.
func NewPool(hosts []string, probe Prober, log *zap.SugaredLogger) *Pool {
	if probe == nil {
		probe = DialProbe(2 * time.Second)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Pool{
		hosts:   hosts,
		healthy: make(map[string]bool),
		probe:   probe,
		log:     log,
	}

	// Initially mark all hosts as healthy
	for _, h := range hosts {
		p.healthy[h] = true
	}

	return p
}

// UpdateHosts replaces the host list. Existing hosts keep their health status.
func (p *Pool) UpdateHosts(hosts []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newHealthy := make(map[string]bool)
	for _, h := range hosts {
		if status, exists := p.healthy[h]; exists {
			newHealthy[h] = status
		} else {
			newHealthy[h] = true
		}
	}

	p.hosts = hosts
	p.healthy = newHealthy

	if len(hosts) > 0 {
		p.current = p.current % len(hosts)
	} else {
		p.current = 0
	}
}

// Current returns the host the pool currently points at
func (p *Pool) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.hosts) == 0 {
		return ""
	}
	return p.hosts[p.current]
}

// Next advances to the next healthy host in round-robin order and returns
// it. When no host is healthy it still advances and returns the next host.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.hosts) == 0 {
		return ""
	}

	for attempts := 0; attempts < len(p.hosts); attempts++ {
		p.current = (p.current + 1) % len(p.hosts)
		if p.healthy[p.hosts[p.current]] {
			return p.hosts[p.current]
		}
	}

	p.log.Warn("[Replica] No healthy hosts available, rotating anyway")
	p.current = (p.current + 1) % len(p.hosts)
	return p.hosts[p.current]
}

// Len returns the number of hosts
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hosts)
}

// MarkUnhealthy marks a host as unhealthy
func (p *Pool) MarkUnhealthy(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.healthy[host]; exists {
		p.healthy[host] = false
		p.log.Warnf("[Replica] Marked %s as unhealthy", host)
	}
}

// MarkHealthy marks a host as healthy
func (p *Pool) MarkHealthy(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.healthy[host]; exists {
		wasUnhealthy := !p.healthy[host]
		p.healthy[host] = true
		if wasUnhealthy {
			p.log.Infof("[Replica] Marked %s as healthy", host)
		}
	}
}

// IsHealthy returns whether a host is healthy
func (p *Pool) IsHealthy(host string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy[host]
}

// GetHealthyCount returns the number of healthy hosts
func (p *Pool) GetHealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, healthy := range p.healthy {
		if healthy {
			count++
		}
	}
	return count
}

// StartHealthChecks begins periodic health checks for all hosts
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial health check immediately
	p.checkAllHosts(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAllHosts(ctx)
		}
	}
}

func (p *Pool) checkAllHosts(ctx context.Context) {
	p.mu.RLock()
	hosts := append([]string(nil), p.hosts...)
	p.mu.RUnlock()

	for _, h := range hosts {
		go p.checkHost(ctx, h)
	}
}

func (p *Pool) checkHost(ctx context.Context, host string) {
	if err := p.probe(ctx, host); err != nil {
		p.MarkUnhealthy(host)
		return
	}
	p.MarkHealthy(host)
}

// DialProbe returns a prober that opens and closes a TCP (or "unix:" prefixed
// socket) connection to the host.
func DialProbe(timeout time.Duration) Prober {
	return func(ctx context.Context, host string) error {
		network := "tcp"
		addr := host
		if strings.HasPrefix(host, "unix:") {
			network = "unix"
			addr = host[5:]
		}
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
