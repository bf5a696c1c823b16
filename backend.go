package graphios

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/graphios/graphios/pkg/transport"
)

// Backend represents a backend.
type Backend interface {
	// Name returns the name of the backend.
	Name() string
	// SendMetrics converts and transmits metrics, blocking until done or ctx is canceled.
	// It returns the number of metrics considered delivered. The count is 0 whenever err is not nil;
	// a 0 count with a nil error means there was nothing to deliver.
	SendMetrics(ctx context.Context, metrics []*Metric) (int, error)
}

// BackendFactory is a function that returns a Backend.
type BackendFactory func(config *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (Backend, error)
