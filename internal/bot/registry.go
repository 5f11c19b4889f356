package bot

import (
	"context"
	"sync"
)

// Registry aggregates the configured platform clients.
type Registry struct {
	mu      sync.RWMutex
	clients []Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{}
	for _, c := range clients {
		r.Add(c)
	}
	return r
}

// Add registers c. A second client for the same platform replaces the first.
func (r *Registry) Add(c Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.clients {
		if old.Platform() == c.Platform() {
			r.clients[i] = c
			return
		}
	}
	r.clients = append(r.clients, c)
}

func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Client(nil), r.clients...)
}

func (r *Registry) Client(platform string) (Client, bool) {
	for _, c := range r.Clients() {
		if c.Platform() == platform {
			return c, true
		}
	}
	return nil, false
}

// Running returns the clients currently connected.
func (r *Registry) Running() []Client {
	var out []Client
	for _, c := range r.Clients() {
		if c.Running() {
			out = append(out, c)
		}
	}
	return out
}

// RegisterCommand registers cmd on every client.
func (r *Registry) RegisterCommand(cmds ...Command) {
	for _, c := range r.Clients() {
		for _, cmd := range cmds {
			c.RegisterCommand(cmd)
		}
	}
}

// StartAll starts the autostart clients concurrently and returns how many
// came up.
func (r *Registry) StartAll(ctx context.Context) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		n  int
	)
	for _, c := range r.Clients() {
		if !c.Autostart() {
			continue
		}
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			if c.Start(ctx) {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return n
}

func (r *Registry) StopAll() {
	for _, c := range r.Clients() {
		c.Stop()
	}
}
