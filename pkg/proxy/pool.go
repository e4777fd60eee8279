package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when a proxy that was never added is reported on.
var ErrUnknownProxy = errors.New("proxy: not in pool")

type entry struct {
	url        *url.URL
	failures   int
	successes  int
	benchUntil time.Time
}

// Config tunes how quickly failing proxies are benched and for how long.
type Config struct {
	// MaxFailures is the number of net failures that benches a proxy.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out.
	Cooldown time.Duration
}

// Pool rotates through proxies round-robin, skipping benched ones.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	byKey       map[string]*entry
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool returns an empty pool. Zero config values default to 3 failures
// and a 5 minute cooldown.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		byKey:       make(map[string]*entry),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile adds one proxy per line from path. Blank lines and lines starting
// with '#' are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer f.Close()

	var raws []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: reading %s: %w", path, err)
	}
	return p.Add(raws...)
}

// Add parses and appends proxies. A missing scheme defaults to http.
// Duplicates are ignored.
func (p *Pool) Add(raws ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range raws {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: parsing %q: %w", raw, err)
		}
		key := u.String()
		if _, ok := p.byKey[key]; ok {
			continue
		}
		e := &entry{url: u}
		p.entries = append(p.entries, e)
		p.byKey[key] = e
	}
	return nil
}

// Len reports the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil when the pool is
// empty or every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.entries {
		e := p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.entries)

		if e.benchUntil.IsZero() {
			return e.url
		}
		if now.After(e.benchUntil) {
			e.benchUntil = time.Time{}
			e.failures = 0
			return e.url
		}
	}
	return nil
}

// MarkSuccess credits a proxy, paying down one recorded failure.
func (p *Pool) MarkSuccess(u *url.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(u)
	if err != nil {
		return err
	}
	e.successes++
	if e.failures > 0 {
		e.failures--
	}
	return nil
}

// MarkFailure records a failure and benches the proxy once it reaches the
// configured maximum.
func (p *Pool) MarkFailure(u *url.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(u)
	if err != nil {
		return err
	}
	e.failures++
	if e.failures >= p.maxFailures {
		e.benchUntil = p.now().Add(p.cooldown)
	}
	return nil
}

// lookup must be called with p.mu held.
func (p *Pool) lookup(u *url.URL) (*entry, error) {
	if u == nil {
		return nil, errors.New("proxy: nil url")
	}
	e, ok := p.byKey[u.String()]
	if !ok {
		return nil, ErrUnknownProxy
	}
	return e, nil
}
