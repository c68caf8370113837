package storage

import (
	"context"
	"testing"
	"time"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

func testSnapshot(service string) Snapshot {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		Service:     service,
		GeneratedAt: ts,
		Sample: anomaly.Sample{
			TS:           ts,
			LatencyP50:   40,
			LatencyP90:   80,
			ErrorRatio:   0.01,
			ReqRate:      100,
			Backpressure: 0.1,
		},
		Regime: anomaly.RegimeNormal,
		Params: tuning.DefaultParams(),
	}
}

func TestMemoryStore_PutAndGetLatest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("edge-gw")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := store.GetLatest(ctx, "edge-gw")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if !found {
		t.Fatal("snapshot not found")
	}
	if got.Service != "edge-gw" || got.Regime != anomaly.RegimeNormal {
		t.Errorf("got %+v, want stored snapshot", got)
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := testSnapshot("edge-gw")
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := testSnapshot("edge-gw")
	second.GeneratedAt = first.GeneratedAt.Add(10 * time.Second)
	second.Regime = anomaly.RegimeHigh
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _, err := store.GetLatest(ctx, "edge-gw")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if got.Regime != anomaly.RegimeHigh {
		t.Errorf("regime = %q, want replacement snapshot", got.Regime)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_UnknownService(t *testing.T) {
	store := NewMemoryStore()

	_, found, err := store.GetLatest(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Fatal("found a snapshot that was never stored")
	}
}

func TestMemoryStore_EmptyServiceRejected(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, testSnapshot("edge-gw")); err == nil {
		t.Error("Put ignored canceled context")
	}
	if _, _, err := store.GetLatest(ctx, "edge-gw"); err == nil {
		t.Error("GetLatest ignored canceled context")
	}
}
