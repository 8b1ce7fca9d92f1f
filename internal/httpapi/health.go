package httpapi

import (
	"net/http"
	"time"
)

// healthResponse mirrors spec §6's `{status, redis, queue, ...}` shape.
type healthResponse struct {
	Status string    `json:"status"`
	Redis  string    `json:"redis"`
	Queue  string    `json:"queue"`
	Time   time.Time `json:"time"`
}

// handleHealth reports liveness plus a best-effort ping of the
// backing store. A pinger that errors downgrades the response to 503;
// a nil pinger skips the check and reports redis as "unchecked" with 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "unchecked"
	status := http.StatusOK
	overall := "healthy"

	if s.pinger != nil {
		if err := s.pinger(r.Context()); err != nil {
			redisStatus = "down"
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		} else {
			redisStatus = "ok"
		}
	}

	writeJSON(w, status, healthResponse{
		Status: overall,
		Redis:  redisStatus,
		Queue:  "ok",
		Time:   time.Now().UTC(),
	})
}
