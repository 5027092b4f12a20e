package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Gate decides once per cycle whether the upload phase may run.
type Gate interface {
	Allow() bool
}

// HealthProber is the slice of the Uploader the health gate needs.
type HealthProber interface {
	CheckHealth(ctx context.Context) error
}

// HealthGate backs the constrained-network preference: uploads run only
// when the endpoint answers its health probe. When the preference is off
// the gate always allows, so an unreachable endpoint simply surfaces as
// per-record upload failures.
type HealthGate struct {
	prober   HealthProber
	required bool
}

// NewHealthGate creates a gate. required=false makes it permissive.
func NewHealthGate(prober HealthProber, required bool) *HealthGate {
	return &HealthGate{prober: prober, required: required}
}

// Allow reports whether the upload phase may run this cycle
func (g *HealthGate) Allow() bool {
	if !g.required {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := g.prober.CheckHealth(ctx); err != nil {
		slog.Info("Upload gate closed", "error", err)
		return false
	}
	return true
}
