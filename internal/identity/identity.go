// Package identity supplies rotating browser identities for new sessions.
package identity

import (
	"math/rand"
	"sync"
	"time"
)

// Identity is a (user agent, viewport) pair applied to a browser context.
type Identity struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// Provider hands out identities round-robin from a shuffled pool.
type Provider struct {
	mu         sync.Mutex
	identities []Identity
	next       int
}

// NewProvider creates a provider over the given user agents paired with
// common desktop viewports. An empty list falls back to the default pool.
func NewProvider(userAgents []string) *Provider {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents()
	}

	viewports := [][2]int{
		{1920, 1080},
		{1680, 1050},
		{1536, 864},
		{1440, 900},
	}

	identities := make([]Identity, 0, len(userAgents))
	for i, ua := range userAgents {
		vp := viewports[i%len(viewports)]
		identities = append(identities, Identity{
			UserAgent:      ua,
			ViewportWidth:  vp[0],
			ViewportHeight: vp[1],
		})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rng.Shuffle(len(identities), func(i, j int) {
		identities[i], identities[j] = identities[j], identities[i]
	})

	return &Provider{identities: identities}
}

// Next returns the next identity in rotation.
func (p *Provider) Next() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.identities[p.next%len(p.identities)]
	p.next++
	return id
}

// DefaultUserAgents returns a pool of current desktop user agents.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
}
