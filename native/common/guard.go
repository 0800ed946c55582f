package common

import (
	"errors"
	"strings"
	"sync"
)

// ErrModulePaused is returned by Guard when the module has been paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause state of native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports module as paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a concurrency-safe PauseView backed by an in-memory set.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]string
}

// NewPauses returns a pause set with the given modules already paused.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]string)}
	for _, module := range modules {
		p.Pause(module, "")
	}
	return p
}

// Pause marks module as paused. Reason is informational only.
func (p *Pauses) Pause(module, reason string) {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	if p.paused == nil {
		p.paused = make(map[string]string)
	}
	p.paused[module] = strings.TrimSpace(reason)
	p.mu.Unlock()
}

// Resume clears the pause flag for module.
func (p *Pauses) Resume(module string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.paused, strings.TrimSpace(module))
	p.mu.Unlock()
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.paused[module]
	return ok
}

// Reason returns the recorded pause reason for module, if any.
func (p *Pauses) Reason(module string) string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}
