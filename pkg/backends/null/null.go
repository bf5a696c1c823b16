package null

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
)

// BackendName is the name of this backend.
const BackendName = "null"

// Client represents a discarding backend.
type Client struct{}

var _ graphios.Backend = Client{}

// NewClientFromViper constructs a discarding backend.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	return NewClient(), nil
}

// NewClient constructs a client object.
func NewClient() Client {
	return Client{}
}

// SendMetrics discards the metrics and reports them all as sent.
func (client Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	return len(metrics), nil
}

// Name returns the name of the backend.
func (client Client) Name() string {
	return BackendName
}
