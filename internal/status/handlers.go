package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Stats summarizes the ledger and the loop state
type Stats struct {
	State         string `json:"state"`
	TotalRecords  int    `json:"total_records"`
	Unprocessed   int    `json:"unprocessed"`
	Documents     int    `json:"documents"`
	PendingUpload int    `json:"pending_upload"`
	Sent          int    `json:"sent"`
}

// handleListRecords returns all ledger records
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetRecord returns a single ledger record by ID
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	record, err := s.db.GetRecord(id)
	if err != nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleStats returns ledger counts and the current loop state
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	stats := Stats{
		State:        string(s.loop.State()),
		TotalRecords: len(records),
	}
	for _, record := range records {
		switch {
		case !record.Processed:
			stats.Unprocessed++
		case record.IsDocument:
			stats.Documents++
		}
		if record.Processed && record.IsDocument {
			if record.Sent {
				stats.Sent++
			} else {
				stats.PendingUpload++
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealthz reports daemon liveness
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
