package ketchconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineConfig_NilReceiverFallsBackToDefaults(t *testing.T) {
	var r *EngineConfig
	assert.Equal(t, DefaultUserAgent, r.GetUserAgent())
	assert.Equal(t, int64(MinChunk), r.GetMinChunkSize())
	assert.Equal(t, int64(MaxChunk), r.GetMaxChunkSize())
	assert.Equal(t, int64(TargetChunk), r.GetTargetChunkSize())
	assert.Equal(t, int64(WorkerBuffer), r.GetWorkerBufferSize())
	assert.Equal(t, MaxTaskRetries, r.GetMaxTaskRetries())
	assert.Equal(t, PerHostMax, r.GetMaxConnectionsPerHost())
}

func TestEngineConfig_ZeroValueFallsBackToDefaults(t *testing.T) {
	r := &EngineConfig{}
	assert.Equal(t, DefaultUserAgent, r.GetUserAgent())
	assert.Equal(t, int64(MinChunk), r.GetMinChunkSize())
}

func TestEngineConfig_OverridesWin(t *testing.T) {
	r := &EngineConfig{
		UserAgent:        "custom/1.0",
		MinChunkSize:     2048,
		WorkerBufferSize: 4096,
		MaxTaskRetries:   7,
	}
	assert.Equal(t, "custom/1.0", r.GetUserAgent())
	assert.Equal(t, int64(2048), r.GetMinChunkSize())
	assert.Equal(t, int64(4096), r.GetWorkerBufferSize())
	assert.Equal(t, 7, r.GetMaxTaskRetries())
}

func TestSchedulerConfig_NilReceiverFallsBackToDefaults(t *testing.T) {
	var s *SchedulerConfig
	assert.Equal(t, 3, s.GetMaxConcurrentDownloads())
	assert.Equal(t, 4, s.GetMaxConnectionsPerHost())
	assert.True(t, s.GetAutoStart())
}

func TestSchedulerConfig_OverridesWin(t *testing.T) {
	s := &SchedulerConfig{MaxConcurrentDownloads: 10, MaxConnectionsPerHost: 2, AutoStart: false}
	assert.Equal(t, 10, s.GetMaxConcurrentDownloads())
	assert.Equal(t, 2, s.GetMaxConnectionsPerHost())
	assert.False(t, s.GetAutoStart())
}
