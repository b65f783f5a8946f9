package tracing

import (
	"sync"

	"github.com/google/uuid"
)

// Hub indexes the live logs of running jobs so stream handlers can attach to them.
type Hub struct {
	mu   sync.RWMutex
	logs map[uuid.UUID]*Log
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{logs: make(map[uuid.UUID]*Log)}
}

// Register makes a log discoverable by job id
func (h *Hub) Register(l *Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs[l.JobID()] = l
}

// Get returns the live log for a job
func (h *Hub) Get(jobID uuid.UUID) (*Log, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.logs[jobID]
	return l, ok
}

// Remove forgets a job's log
func (h *Hub) Remove(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.logs, jobID)
}
