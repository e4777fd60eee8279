package useragent

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"
)

// DefaultAgents are desktop browser User-Agents. Some image hosts refuse
// requests that carry Go's default agent, so downloads rotate through these.
var DefaultAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Pool hands out User-Agent strings. It is safe for concurrent use.
type Pool struct {
	agents []string
	next   atomic.Uint64
}

// NewPool copies agents into a new pool, falling back to DefaultAgents when
// agents is empty.
func NewPool(agents []string) *Pool {
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	return &Pool{agents: append([]string(nil), agents...)}
}

// Next returns agents in round-robin order.
func (p *Pool) Next() string {
	if len(p.agents) == 0 {
		return ""
	}
	i := p.next.Add(1) - 1
	return p.agents[i%uint64(len(p.agents))]
}

// Random picks an agent using crypto/rand, degrading to Next on failure.
func (p *Pool) Random() string {
	if len(p.agents) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.agents))))
	if err != nil {
		return p.Next()
	}
	return p.agents[n.Int64()]
}

// Len reports how many agents the pool rotates through.
func (p *Pool) Len() int {
	return len(p.agents)
}
