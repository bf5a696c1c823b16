package null

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/internal/fixtures"
)

func TestSendMetricsDiscards(t *testing.T) {
	t.Parallel()
	c := NewClient()
	assert.Equal(t, BackendName, c.Name())
	n, err := c.SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric(), fixtures.MakeMetric()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
