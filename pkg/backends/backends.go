package backends

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/backends/carbon"
	"github.com/graphios/graphios/pkg/backends/influxdb"
	"github.com/graphios/graphios/pkg/backends/librato"
	"github.com/graphios/graphios/pkg/backends/null"
	"github.com/graphios/graphios/pkg/backends/statsd"
	"github.com/graphios/graphios/pkg/backends/stdout"
	"github.com/graphios/graphios/pkg/transport"
)

// All known backends.
var backends = map[string]graphios.BackendFactory{
	carbon.BackendName:   carbon.NewClientFromViper,
	influxdb.BackendName: influxdb.NewClientFromViper,
	librato.BackendName:  librato.NewClientFromViper,
	null.BackendName:     null.NewClientFromViper,
	statsd.BackendName:   statsd.NewClientFromViper,
	stdout.BackendName:   stdout.NewClientFromViper,
}

// Names returns the names of all known backends, sorted.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetBackend creates an instance of the named backend, or nil if
// the name is not known. The error return is only used if the named backend
// was known but failed to initialize.
func GetBackend(name string, v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	f, found := backends[name]
	if !found {
		return nil, nil
	}
	return f(v, logger, pool)
}

// InitBackend creates an instance of the named backend.
func InitBackend(name string, v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	if name == "" {
		return nil, errors.New("empty backend name")
	}

	backend, err := GetBackend(name, v, logger, pool)
	if err != nil {
		return nil, fmt.Errorf("could not init backend %q: %v", name, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	logger.Infof("Initialised backend %q", name)

	return backend, nil
}

// InitBackends creates every named backend. All construction errors are reported, not only the first.
func InitBackends(names []string, v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) ([]graphios.Backend, error) {
	result := make([]graphios.Backend, 0, len(names))
	var errs error
	for _, name := range names {
		backend, err := InitBackend(name, v, logger, pool)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result = append(result, backend)
	}
	if errs != nil {
		return nil, errs
	}
	return result, nil
}
