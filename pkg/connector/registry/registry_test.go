package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/connector/core"
)

func TestRegisterAndCreate(t *testing.T) {
	require.NoError(t, RegisterSource("test-src", func(path string) (core.Source, error) {
		return nil, nil
	}))
	require.NoError(t, RegisterDestination("test-dst", func(path string) (core.Destination, error) {
		return nil, nil
	}))

	_, err := CreateSource("test-src", "/tmp/in")
	assert.NoError(t, err)
	_, err = CreateDestination("test-dst", "/tmp/out")
	assert.NoError(t, err)

	assert.Contains(t, Sources(), "test-src")
	assert.Contains(t, Destinations(), "test-dst")
}

func TestDuplicateRegistrationFails(t *testing.T) {
	require.NoError(t, RegisterSource("dup-src", func(path string) (core.Source, error) {
		return nil, nil
	}))
	assert.Error(t, RegisterSource("dup-src", func(path string) (core.Source, error) {
		return nil, nil
	}))
}

func TestUnknownNamesFail(t *testing.T) {
	_, err := CreateSource("nope", "/tmp/in")
	assert.Error(t, err)
	_, err = CreateDestination("nope", "/tmp/out")
	assert.Error(t, err)
}
