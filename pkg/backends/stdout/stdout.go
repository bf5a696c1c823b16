package stdout

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
)

// BackendName is the name of this backend.
const BackendName = "stdout"

const separator = "-------"

// Client prints every metric field by field. It is meant for debugging a configuration.
type Client struct {
	mu sync.Mutex
	w  io.Writer
}

var _ graphios.Backend = (*Client)(nil)

// NewClientFromViper constructs a stdout backend writing to os.Stdout.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	logger.WithField("backend", BackendName).Info("created backend")
	return NewClient(os.Stdout), nil
}

// NewClient constructs a stdout backend writing to w.
func NewClient(w io.Writer) *Client {
	return &Client{w: w}
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// SendMetrics prints metrics and returns how many were printed.
func (client *Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	bw := bufio.NewWriter(client.w)
	for _, m := range metrics {
		writeMetric(bw, m)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("[%s] %v", BackendName, err)
	}
	return len(metrics), nil
}

func writeMetric(w io.Writer, m *graphios.Metric) {
	fields := []struct {
		label string
		value string
	}{
		{graphios.FieldLabel, m.Label},
		{graphios.FieldValue, m.Value},
		{graphios.FieldUOM, m.UOM},
		{graphios.FieldDataType, m.DataType},
		{graphios.FieldTimestamp, m.Timestamp},
		{graphios.FieldHostname, m.Hostname},
		{graphios.FieldServiceDesc, m.ServiceDesc},
		{graphios.FieldPerfdata, m.Perfdata},
		{graphios.FieldServiceCheckCommand, m.ServiceCheckCommand},
		{graphios.FieldHostCheckCommand, m.HostCheckCommand},
		{graphios.FieldHostState, m.HostState},
		{graphios.FieldHostStateType, m.HostStateType},
		{graphios.FieldServiceState, m.ServiceState},
		{graphios.FieldServiceStateType, m.ServiceStateType},
		{graphios.FieldMetricBasePath, m.MetricBasePath},
		{graphios.FieldGraphitePrefix, m.GraphitePrefix},
		{graphios.FieldGraphitePostfix, m.GraphitePostfix},
		{graphios.FieldMetricType, m.MetricType},
	}
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s: %s\n", f.label, f.value)
	}
	_, _ = fmt.Fprintln(w, separator)
}
