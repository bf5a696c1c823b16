package backends

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/graphios/graphios/internal/fixtures"
	"github.com/graphios/graphios/pkg/transport"
)

func TestNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"carbon", "influxdb", "librato", "null", "statsd", "stdout"}, Names())
}

func TestInitBackend(t *testing.T) {
	t.Parallel()
	logger := fixtures.NewTestLogger(t)
	pool := transport.NewTransportPool(logger, viper.New())

	for _, name := range []string{"carbon", "statsd", "stdout", "null"} {
		b, err := InitBackend(name, viper.New(), logger, pool)
		require.NoError(t, err, name)
		assert.Equal(t, name, b.Name())
	}

	_, err := InitBackend("", viper.New(), logger, pool)
	assert.Error(t, err)

	_, err = InitBackend("graphite", viper.New(), logger, pool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "graphite"`)

	_, err = InitBackend("librato", viper.New(), logger, pool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "librato_email is required")
}

func TestGetBackendUnknown(t *testing.T) {
	t.Parallel()
	b, err := GetBackend("nope", viper.New(), fixtures.NewTestLogger(t), nil)
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestInitBackendsReportsAllErrors(t *testing.T) {
	t.Parallel()
	logger := fixtures.NewTestLogger(t)
	pool := transport.NewTransportPool(logger, viper.New())

	list, err := InitBackends([]string{"null", "librato", "influxdb", "bogus"}, viper.New(), logger, pool)
	require.Error(t, err)
	assert.Nil(t, list)
	assert.Len(t, multierr.Errors(err), 3)

	list, err = InitBackends([]string{"null", "stdout"}, viper.New(), logger, pool)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "null", list[0].Name())
	assert.Equal(t, "stdout", list[1].Name())
}
