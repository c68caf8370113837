// Package storage provides decision snapshot storage implementations.
//
// A Snapshot captures one evaluated monitoring interval: the sample,
// the alerts it raised, the tuner's current operating point and the
// recommendation, if any. Only the latest snapshot per service is kept;
// the sentinel deliberately retains no history window. External systems
// (alert sinks, the configuration manager that actually enforces limits)
// poll the latest snapshot through the HTTP API.
package storage

import (
	"context"
	"time"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

// Snapshot is the result of evaluating one sample for one service.
type Snapshot struct {
	Service     string    `json:"service"`
	GeneratedAt time.Time `json:"generatedAt"`

	Sample anomaly.Sample `json:"sample"`
	// Regime is the detector's confirmed regime, empty before the first
	// confirmation.
	Regime anomaly.Regime  `json:"regime,omitempty"`
	Alerts []anomaly.Alert `json:"alerts,omitempty"`

	// Params is the tuner's operating point after this interval.
	Params tuning.Params `json:"params"`
	// Recommendation is present only when a tuning rule fired.
	Recommendation *tuning.Recommendation `json:"recommendation,omitempty"`
	// Applied reports whether the recommendation was applied to the
	// tuner's local state by the sentinel itself (auto-apply mode).
	Applied bool `json:"applied,omitempty"`
}

// Store persists the latest snapshot per service.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, service string) (Snapshot, bool, error)
}
