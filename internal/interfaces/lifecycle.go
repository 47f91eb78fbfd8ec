package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/poller"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State              string     `json:"state"`
	Profile            string     `json:"profile"`
	Transport          string     `json:"transport"`
	PersistenceEnabled bool       `json:"persistence_enabled"`
	CyclesTotal        int64      `json:"cycles_total"`
	CyclesFailed       int64      `json:"cycles_failed"`
	LastCycleAt        *time.Time `json:"last_cycle_at,omitempty"`
}

// LifecycleManager is what the API layer needs from the running system.
type LifecycleManager interface {
	Config() *config.Config
	Catalog() *registers.Catalog
	LatestCycle() (poller.CycleResult, bool)
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
