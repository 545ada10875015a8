package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func resetGlobal() {
	globalLock.Lock()
	Global = nil
	globalLock.Unlock()
}

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, 10, c.DetectionCycleSeconds)
	assert.Equal(t, 50, c.DetectionWindowSize)
	assert.Equal(t, 0.3, c.DetectionEWMAAlpha)
	assert.Equal(t, 3.0, c.DetectionZScoreDivisor)
	assert.Equal(t, 3.5, c.DetectionMADDivisor)

	assert.Equal(t, 300, c.CorrelatorWindowSeconds)
	assert.Equal(t, 30, c.CorrelatorIdleCloseSeconds)

	assert.Equal(t, 1800, c.RemediationApprovalTTLSeconds)
	assert.Equal(t, 3600, c.RemediationRateLimitWindowSeconds)
	assert.True(t, c.RemediationDryRunDefault)

	assert.Equal(t, 300, c.DeviceRegistryCacheTTLSeconds)
	assert.Equal(t, 5000, c.DeviceRegistryLookupTimeoutMS)
}

func TestDefaults_Thresholds(t *testing.T) {
	c := Defaults()

	assert.Equal(t, 0.7, c.Thresholds.Get("cpu_usage", 0))
	assert.Equal(t, 0.6, c.Thresholds.Get("memory_usage", 0))
	assert.Equal(t, 0.8, c.Thresholds.Get("disk_usage", 0))
	assert.Equal(t, 200.0, c.Thresholds.Get("network_latency", 0))
	assert.Equal(t, 1.0, c.Thresholds.Get("unknown_metric", 1.0))
}

func TestThresholds_Set(t *testing.T) {
	c := Defaults()
	c.Thresholds.Set("cpu_usage", 0.9)
	assert.Equal(t, 0.9, c.Thresholds.Get("cpu_usage", 0))
}

func TestFromEnv_Overrides(t *testing.T) {
	os.Setenv("DETECTION_CYCLE_SECONDS", "15")
	os.Setenv("THRESHOLD_CPU_USAGE", "0.5")
	os.Setenv("BUS_BROKERS", "broker-1:9092, broker-2:9092")
	defer func() {
		os.Unsetenv("DETECTION_CYCLE_SECONDS")
		os.Unsetenv("THRESHOLD_CPU_USAGE")
		os.Unsetenv("BUS_BROKERS")
	}()

	c := FromEnv("anomalydetector")

	assert.Equal(t, 15, c.DetectionCycleSeconds)
	assert.Equal(t, 0.5, c.Thresholds.Get("cpu_usage", 0))
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, c.BusBrokers)
	assert.Equal(t, "anomalydetector", c.Component)
}

func TestLoad_Singleton(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	c1 := Load("enricher")
	c2 := Load("correlator")

	assert.Same(t, c1, c2, "Load must return the same global instance once set")
}

func TestGet_LazyDefaults(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	c := Get()
	require := assert.New(t)
	require.NotNil(c)
	require.Equal(10, c.DetectionCycleSeconds)
}

func TestDurationHelpers(t *testing.T) {
	c := Defaults()

	assert.Equal(t, 10*time.Second, c.DetectionCycle())
	assert.Equal(t, 300*time.Second, c.CorrelatorWindow())
	assert.Equal(t, 30*time.Second, c.CorrelatorIdleClose())
	assert.Equal(t, 1800*time.Second, c.RemediationApprovalTTL())
	assert.Equal(t, 3600*time.Second, c.RemediationRateLimitWindow())
	assert.Equal(t, 300*time.Second, c.DeviceRegistryCacheTTL())
	assert.Equal(t, 5000*time.Millisecond, c.DeviceRegistryLookupTimeout())
}

func TestGetBoolEnv_InvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("REMEDIATION_DRY_RUN_DEFAULT", "not-a-bool")
	defer os.Unsetenv("REMEDIATION_DRY_RUN_DEFAULT")

	assert.True(t, getBoolEnv("REMEDIATION_DRY_RUN_DEFAULT", true))
}

func TestConcurrentThresholdAccess(t *testing.T) {
	c := Defaults()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Thresholds.Set("cpu_usage", float64(i))
			_ = c.Thresholds.Get("cpu_usage", 0)
		}(i)
	}
	wg.Wait()
}
