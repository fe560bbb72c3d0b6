package app

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"smartstop.transitwatch.org/internal/appconf"
)

func TestIsInvalidAPIKey(t *testing.T) {
	app := &Application{Config: appconf.Config{ApiKeys: []string{"test", "ops"}}}

	assert.False(t, app.IsInvalidAPIKey("test"))
	assert.False(t, app.IsInvalidAPIKey("ops"))
	assert.True(t, app.IsInvalidAPIKey("wrong"))
	assert.True(t, app.IsInvalidAPIKey(""))
}

func TestEmptyKeySetDisablesAuth(t *testing.T) {
	app := &Application{Config: appconf.Config{}}
	assert.False(t, app.IsInvalidAPIKey(""))
	assert.False(t, app.IsInvalidAPIKey("anything"))
}

func TestRequestHasInvalidAPIKey(t *testing.T) {
	app := &Application{Config: appconf.Config{ApiKeys: []string{"test"}}}

	r := httptest.NewRequest("GET", "/api/v1/alerts?key=test", nil)
	assert.False(t, app.RequestHasInvalidAPIKey(r))

	r = httptest.NewRequest("GET", "/api/v1/alerts?key=nope", nil)
	assert.True(t, app.RequestHasInvalidAPIKey(r))

	r = httptest.NewRequest("GET", "/api/v1/alerts", nil)
	assert.True(t, app.RequestHasInvalidAPIKey(r))
}
