package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestPoolStats_JSON(t *testing.T) {
	stats := PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["total_conns"] != float64(10) {
		t.Errorf("expected total_conns 10, got %v", decoded["total_conns"])
	}
	if decoded["acquire_duration"] != "1.5s" {
		t.Errorf("expected acquire_duration 1.5s, got %v", decoded["acquire_duration"])
	}
}

func TestRunProbes(t *testing.T) {
	probes := map[string]Probe{
		"ledger": func(context.Context) error { return nil },
		"events": func(context.Context) error { return errors.New("stream down") },
	}

	results := runProbes(context.Background(), probes)
	if results["ledger"] != "ok" {
		t.Errorf("expected ledger ok, got %q", results["ledger"])
	}
	if results["events"] != "stream down" {
		t.Errorf("expected events failure message, got %q", results["events"])
	}
}

func TestRunProbes_Empty(t *testing.T) {
	if results := runProbes(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
}
