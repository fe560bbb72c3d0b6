package appconf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFlagToEnvironment(t *testing.T) {
	assert.Equal(t, Production, EnvFlagToEnvironment("production"))
	assert.Equal(t, Test, EnvFlagToEnvironment("test"))
	assert.Equal(t, Development, EnvFlagToEnvironment("development"))
	assert.Equal(t, Development, EnvFlagToEnvironment(""))
	assert.Equal(t, Production, EnvFlagToEnvironment(" Production "))
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("SCHEDULE_REFRESH_SEC", "90")
	d, err := GetenvDuration("SCHEDULE_REFRESH_SEC", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = GetenvDuration("UNSET_VARIABLE_FOR_TEST", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	t.Setenv("SCHEDULE_REFRESH_SEC", "not-a-number")
	_, err = GetenvDuration("SCHEDULE_REFRESH_SEC", time.Minute)
	assert.Error(t, err)
}
