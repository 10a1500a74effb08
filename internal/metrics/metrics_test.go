package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryGathersAllCollectors(t *testing.T) {
	families, err := Registry.Gather()
	assert.NoError(t, err)
	assert.NotNil(t, families)
}

func TestDecisionsTotalAcceptsLabels(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("attempt", "dust"))
	DecisionsTotal.WithLabelValues("attempt", "dust").Inc()
	after := testutil.ToFloat64(DecisionsTotal.WithLabelValues("attempt", "dust"))
	assert.Equal(t, before+1, after)
}

func TestSignerInFlightGaugeSetsPerLabel(t *testing.T) {
	SignerInFlight.WithLabelValues("0xsigner").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(SignerInFlight.WithLabelValues("0xsigner")))
}
