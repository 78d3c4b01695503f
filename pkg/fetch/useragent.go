package fetch

import "sync/atomic"

// Desktop browser agents rotated across requests when no fixed agent is
// configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
}

// agentPool hands out user agents round-robin. A configured fixed agent
// short-circuits rotation.
type agentPool struct {
	fixed  string
	agents []string
	next   atomic.Uint64
}

func newAgentPool(fixed string) *agentPool {
	return &agentPool{fixed: fixed, agents: defaultUserAgents}
}

func (p *agentPool) Next() string {
	if p.fixed != "" {
		return p.fixed
	}
	n := p.next.Add(1) - 1
	return p.agents[n%uint64(len(p.agents))]
}
