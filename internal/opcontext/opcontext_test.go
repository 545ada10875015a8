package opcontext_test

import (
	"testing"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/opcontext"

	"github.com/stretchr/testify/assert"
)

func TestGet_DefaultsToNormal(t *testing.T) {
	s := opcontext.New()
	snap := s.Get("ship-1")
	assert.Equal(t, model.OperationalStatusNormal, snap.OperationalStatus)
}

func TestSetAndGet(t *testing.T) {
	s := opcontext.New()
	s.Set("ship-1", opcontext.Snapshot{OperationalStatus: model.OperationalStatusWeatherImpacted, RainRateMMH: 8})

	snap := s.Get("ship-1")
	assert.Equal(t, model.OperationalStatusWeatherImpacted, snap.OperationalStatus)
	assert.Equal(t, 8.0, snap.RainRateMMH)
}
