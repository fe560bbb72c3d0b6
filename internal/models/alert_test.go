package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertCanTransition(t *testing.T) {
	open := Alert{Status: AlertOpen}
	assert.True(t, open.CanTransition(AlertAcknowledged))
	assert.True(t, open.CanTransition(AlertResolved))

	acked := Alert{Status: AlertAcknowledged}
	assert.False(t, acked.CanTransition(AlertAcknowledged))
	assert.True(t, acked.CanTransition(AlertResolved))

	resolved := Alert{Status: AlertResolved}
	assert.False(t, resolved.CanTransition(AlertOpen))
	assert.False(t, resolved.CanTransition(AlertAcknowledged))
	assert.False(t, resolved.CanTransition(AlertResolved))
}

func TestAlertKey(t *testing.T) {
	assert.Equal(t, "S1/overcrowding", AlertKey("S1", AlertOvercrowding))
}
