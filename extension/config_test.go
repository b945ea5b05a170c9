package extension

import (
	"testing"
	"time"

	"github.com/xraph/feeledger/gateway/midtrans"
	"github.com/xraph/feeledger/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{SweepBatch: 25})
	defaults := DefaultConfig()

	if cfg.SweepBatch != 25 {
		t.Errorf("SweepBatch: got %d, want 25", cfg.SweepBatch)
	}
	if cfg.SweepInterval != defaults.SweepInterval {
		t.Errorf("SweepInterval: got %v, want %v", cfg.SweepInterval, defaults.SweepInterval)
	}
	if cfg.Driver != DriverMemory {
		t.Errorf("Driver: got %q, want %q", cfg.Driver, DriverMemory)
	}
	if cfg.AttemptExpiry != 24*time.Hour {
		t.Errorf("AttemptExpiry: got %v, want 24h", cfg.AttemptExpiry)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yamlCfg := Config{Driver: DriverPostgres, SweepInterval: 30 * time.Second}
	progCfg := Config{
		Driver:         DriverSQLite,
		SweepInterval:  time.Hour,
		SweepBatch:     10,
		DisableMigrate: true,
		Midtrans:       &midtrans.Config{ServerKey: "SB-key"},
	}

	cfg := mergeConfigurations(yamlCfg, progCfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"driver from yaml", cfg.Driver, DriverPostgres},
		{"sweep interval from yaml", cfg.SweepInterval, 30 * time.Second},
		{"sweep batch fills gap", cfg.SweepBatch, 10},
		{"disable migrate", cfg.DisableMigrate, true},
		{"summary cache default", cfg.SummaryCacheSize, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if cfg.Midtrans == nil || cfg.Midtrans.ServerKey != "SB-key" {
		t.Errorf("Midtrans: got %+v, want programmatic config", cfg.Midtrans)
	}
}

func TestBuildStore(t *testing.T) {
	s, err := buildStore("", nil)
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("store: got %T, want *memory.Store", s)
	}

	if _, err := buildStore(DriverPostgres, nil); err == nil {
		t.Error("postgres without database: got nil error")
	}
}
