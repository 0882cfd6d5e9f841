// Package dashboard provides event handling and message formatting for the dashboard.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/loom-dev/loom/internal/change"
	"github.com/loom-dev/loom/internal/filesync"
)

// Handler formats sync events as dashboard messages.
// It bridges between the sync daemon and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	// Statistics tracking
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnChangeApplied handles a successfully applied change
func (h *Handler) OnChangeApplied(c change.Change) {
	h.logger.Printf("Change applied: %s %s by %s", c.Kind, c.Path, c.Origin)

	h.stats.TotalApplied++

	data := ChangeData{
		ChangeID: c.ID,
		Path:     c.Path,
		Kind:     c.Kind.String(),
		Origin:   c.Origin,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal change data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeChange,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnConflict handles a rejected change
func (h *Handler) OnConflict(path, origin, priorOrigin string) {
	h.logger.Printf("Conflict: %s by %s collides with %s", path, origin, priorOrigin)

	h.stats.TotalConflicts++

	data := ConflictData{
		Path:        path,
		Origin:      origin,
		PriorOrigin: priorOrigin,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal conflict data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeConflict,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnWorkerChange handles worker registration and unregistration
func (h *Handler) OnWorkerChange(worker, action string, count int) {
	h.logger.Printf("Worker %s: %s (total: %d)", action, worker, count)

	h.stats.Workers = count

	data := WorkerData{
		Worker: worker,
		Action: action,
		Count:  count,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal worker data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeWorker,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnStats broadcasts a full statistics snapshot from the sync manager
func (h *Handler) OnStats(stats filesync.Stats, workers int) {
	h.stats = StatsData{
		TotalApplied:   stats.TotalApplied,
		TotalConflicts: stats.TotalConflicts,
		AverageApply:   stats.AverageApply,
		LastSync:       stats.LastSync,
		Workers:        workers,
	}
	h.server.setStats(h.stats)

	h.broadcastStats()
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	dataJSON, err := json.Marshal(h.stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	return h.stats
}
