package healthcheck

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// Periodically pings the service's dependencies (counter store, database)
type Checker struct {
	mu          sync.RWMutex
	pings       map[string]PingFunc
	required    map[string]bool
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

type Dependency struct {
	Name string
	Ping PingFunc
	// Required dependencies make the service unhealthy when down; the
	// others only degrade it.
	Required bool
}

type Config struct {
	Dependencies []Dependency
	Interval     time.Duration // How often to check (default: 10s)
	Timeout      time.Duration // Ping timeout (default: 2s)
	MaxFailures  int           // Failures before marking unhealthy (default: 2)
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 2
	}

	checker := &Checker{
		pings:       make(map[string]PingFunc),
		required:    make(map[string]bool),
		status:      make(map[string]*Status),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}

	for _, dep := range cfg.Dependencies {
		checker.pings[dep.Name] = dep.Ping
		checker.required[dep.Name] = dep.Required
		checker.status[dep.Name] = &Status{
			Target:    dep.Name,
			IsHealthy: true, // Assume healthy until proven otherwise
			LastCheck: time.Now(),
		}
	}

	return checker
}

// Begins periodic checks. The first round runs synchronously.
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"dependencies": len(c.pings),
		"interval":     c.interval,
	}).Info("starting dependency health checks")

	c.CheckAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		log.Info("health checker stopped")
	}
}

// Pings every dependency concurrently
func (c *Checker) CheckAll() {
	var wg sync.WaitGroup

	for name, ping := range c.pings {
		wg.Add(1)
		go func(name string, ping PingFunc) {
			defer wg.Done()
			c.check(name, ping)
		}(name, ping)
	}

	wg.Wait()
}

func (c *Checker) check(name string, ping PingFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		c.recordFailure(name, err)
		return
	}
	c.recordSuccess(name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	status.LastCheck = time.Now()
	status.LastSuccess = status.LastCheck
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		log.WithField("dependency", name).Info("dependency is healthy again")
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	status.LastCheck = time.Now()
	status.LastFailure = status.LastCheck
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		log.WithFields(log.Fields{
			"dependency": name,
			"failures":   status.FailureCount,
		}).WithError(err).Warn("dependency is unhealthy")
		status.IsHealthy = false
	}
}

// Returns a copy of every dependency's status, sorted by name
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.status))
	for _, s := range c.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })

	return out
}

// Unhealthy if a required dependency is down, degraded if an optional one is.
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := Healthy
	for name, s := range c.status {
		if s.IsHealthy {
			continue
		}
		if c.required[name] {
			return Unhealthy
		}
		overall = Degraded
	}

	return overall
}
