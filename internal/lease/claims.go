package lease

import "sync"

// Claims is the in-process set of jobs with a run in progress.
type Claims struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewClaims() *Claims {
	return &Claims{active: make(map[string]struct{})}
}

// Claim marks jobID as running. It returns false if it already was.
func (c *Claims) Claim(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[jobID]; ok {
		return false
	}
	c.active[jobID] = struct{}{}
	return true
}

func (c *Claims) Release(jobID string) {
	c.mu.Lock()
	delete(c.active, jobID)
	c.mu.Unlock()
}

func (c *Claims) Held(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[jobID]
	return ok
}
