package postgres

import "context"

// HealthChecker reports database liveness for the health endpoint.
type HealthChecker struct {
	db Pool
}

// NewHealthChecker creates a postgres health checker.
func NewHealthChecker(db Pool) *HealthChecker {
	return &HealthChecker{db: db}
}

func (h *HealthChecker) Name() string { return "postgres" }

func (h *HealthChecker) Check(ctx context.Context) error {
	return h.db.Ping(ctx)
}
