package services

import (
	"fmt"
	"sync"
)

// AgentAddressPool hands out per-request XRPL settlement addresses from
// a configured pool. An address stays reserved until its bridge reaches
// a terminal status.
type AgentAddressPool struct {
	mu    sync.Mutex
	inUse map[string]bool
	order []string
}

// NewAgentAddressPool creates a pool over the configured addresses
func NewAgentAddressPool(addresses []string) *AgentAddressPool {
	pool := &AgentAddressPool{
		inUse: make(map[string]bool, len(addresses)),
		order: append([]string(nil), addresses...),
	}
	for _, addr := range addresses {
		pool.inUse[addr] = false
	}
	return pool
}

// Allocate reserves a free address
func (p *AgentAddressPool) Allocate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, addr := range p.order {
		if !p.inUse[addr] {
			p.inUse[addr] = true
			return addr, nil
		}
	}
	return "", fmt.Errorf("no free agent addresses (%d configured, all reserved)", len(p.order))
}

// Reserve marks a specific address as in use; used on startup to
// restore reservations held by still-pending bridges.
func (p *AgentAddressPool) Reserve(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.inUse[addr]; known {
		p.inUse[addr] = true
	}
}

// Release returns an address to the pool; releasing a free or unknown
// address is a no-op.
func (p *AgentAddressPool) Release(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.inUse[addr]; known {
		p.inUse[addr] = false
	}
}

// FreeCount returns the number of available addresses
func (p *AgentAddressPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, used := range p.inUse {
		if !used {
			n++
		}
	}
	return n
}
