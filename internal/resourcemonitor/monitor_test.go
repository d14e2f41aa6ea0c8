package resourcemonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitDefaultsTrueBeforeFirstSample(t *testing.T) {
	m := New(90, 90, time.Minute, nil)
	assert.True(t, m.Admit())
}

func TestRunSamplesAtLeastOnce(t *testing.T) {
	m := New(100, 100, 50*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	m.Run(ctx)

	cpuPercent, memPercent := m.LastSample()
	assert.GreaterOrEqual(t, cpuPercent, 0.0)
	assert.GreaterOrEqual(t, memPercent, 0.0)
}
