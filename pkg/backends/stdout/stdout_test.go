package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/internal/fixtures"
)

func TestSendMetrics(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewClient(&buf)

	n, err := c.SendMetrics(context.Background(), []*graphios.Metric{
		fixtures.MakeMetric(),
		fixtures.MakeMetric(fixtures.Hostname("web2")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, separator+"\n"))
	assert.Contains(t, out, "LABEL: load1\n")
	assert.Contains(t, out, "HOSTNAME: web1\n")
	assert.Contains(t, out, "HOSTNAME: web2\n")
	assert.Contains(t, out, "TIMET: 1700000000\n")
	assert.Contains(t, out, "GRAPHITEPOSTFIX: \n")

	blocks := strings.Split(strings.TrimSuffix(out, separator+"\n"), separator+"\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, 18, strings.Count(blocks[0], "\n"))
}

func TestSendNothing(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n, err := NewClient(&buf).SendMetrics(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("closed")
}

func TestWriteFailure(t *testing.T) {
	t.Parallel()
	n, err := NewClient(failingWriter{}).SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric()})
	require.Error(t, err)
	assert.Zero(t, n)
}
