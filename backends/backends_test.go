package backends_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/backends/goeval"
)

func TestNewWithConfig(t *testing.T) {
	backend := backends.NewWithConfig("goeval:3")
	defer backend.Finalize()
	assert.Equal(t, goeval.BackendName, backend.Name())
	assert.Equal(t, backends.DeviceNum(3), backend.NumDevices())

	// Empty config falls back to the first registered backend.
	backend = backends.NewWithConfig("")
	defer backend.Finalize()
	assert.Equal(t, goeval.BackendName, backend.Name())

	assert.Panics(t, func() { backends.NewWithConfig("nosuchbackend:") })
}

func TestNewHonorsEnvVar(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "goeval:2")
	backend := backends.New()
	defer backend.Finalize()
	require.Equal(t, backends.DeviceNum(2), backend.NumDevices())
}

func TestOpTypeString(t *testing.T) {
	assert.Equal(t, "BitwiseAnd", backends.OpTypeBitwiseAnd.String())
	assert.Equal(t, "ShiftRightLogical", backends.OpTypeShiftRightLogical.String())
	assert.Equal(t, "OpType(-1)", backends.OpType(-1).String())
}
