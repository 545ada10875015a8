package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_UnresolvableShortCircuits(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, time.Minute)

	for _, host := range []string{"unknown", "", "localhost", "Localhost"} {
		assert.Nil(t, c.Lookup(context.Background(), host))
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "unresolvable hostnames must never reach the network")
}

func TestLookup_Hit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.DeviceMapping{ShipID: "ship-1", DeviceID: "dev-1", DeviceType: "gateway", Location: "bridge"})
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, time.Minute)
	mapping := c.Lookup(context.Background(), "10.0.0.5")
	require.NotNil(t, mapping)
	assert.Equal(t, "ship-1", mapping.ShipID)
	assert.Equal(t, "gateway", mapping.DeviceType)
}

func TestLookup_NotFoundReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, time.Minute)
	assert.Nil(t, c.Lookup(context.Background(), "10.0.0.9"))
}

func TestLookup_TransportErrorReturnsNilNeverPanics(t *testing.T) {
	c := registry.New("http://127.0.0.1:1", 50*time.Millisecond, time.Minute)
	assert.Nil(t, c.Lookup(context.Background(), "10.0.0.5"))
}

func TestLookup_CachesWithinTTL(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(model.DeviceMapping{ShipID: "ship-1", DeviceID: "dev-1"})
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, time.Hour)
	c.Lookup(context.Background(), "10.0.0.5")
	c.Lookup(context.Background(), "10.0.0.5")
	c.Lookup(context.Background(), "10.0.0.5")

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "a cached mapping must not trigger repeat remote lookups")
}

func TestLookup_CacheExpiresAfterTTL(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(model.DeviceMapping{ShipID: "ship-1", DeviceID: "dev-1"})
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, 20*time.Millisecond)
	c.Lookup(context.Background(), "10.0.0.5")
	time.Sleep(40 * time.Millisecond)
	c.Lookup(context.Background(), "10.0.0.5")

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "an expired cache entry must trigger a fresh remote lookup")
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := registry.New(server.URL, time.Second, time.Minute)
	assert.NoError(t, c.HealthCheck(context.Background()))
}
