package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Swind/go-forkjoin/internal/topology"
)

func TestDefaultSchedulerConfigFillsEveryField(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.NotEmpty(t, cfg.Name)
	assert.Greater(t, cfg.Workers, 0)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Metrics)
	assert.NotNil(t, cfg.PanicHandler)
}

func TestNormalizeFillsOnlyZeroFields(t *testing.T) {
	cfg := SchedulerConfig{Name: "custom", Workers: 3, Distribution: topology.Seq}
	got := cfg.Normalize()
	assert.Equal(t, "custom", got.Name)
	assert.Equal(t, 3, got.Workers)
	assert.Equal(t, topology.Seq, got.Distribution)
	assert.NotNil(t, got.Logger)
	assert.NotNil(t, got.Metrics)
	assert.NotNil(t, got.PanicHandler)
}

func TestNormalizeLeavesNegativeWorkersReplaced(t *testing.T) {
	cfg := SchedulerConfig{Workers: -1}
	got := cfg.Normalize()
	assert.Greater(t, got.Workers, 0)
}
