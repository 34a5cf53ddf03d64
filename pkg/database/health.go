package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus reports database reachability and pool stats.
type HealthStatus struct {
	Reachable      bool          `json:"reachable"`
	Latency        time.Duration `json:"latency"`
	OpenConns      int           `json:"open_conns"`
	InUse          int           `json:"in_use"`
	Idle           int           `json:"idle"`
	Error          string        `json:"error,omitempty"`
}

// Health pings the database and returns pool statistics.
func Health(ctx context.Context, db *sql.DB) HealthStatus {
	start := time.Now()
	err := db.PingContext(ctx)
	stats := db.Stats()
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
		OpenConns: stats.OpenConnections,
		InUse:     stats.InUse,
		Idle:      stats.Idle,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
