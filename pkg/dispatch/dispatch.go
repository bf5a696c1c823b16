package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"
	"go.uber.org/multierr"

	"github.com/graphios/graphios"
)

// Dispatcher sends the same metrics to every backend.
type Dispatcher struct {
	Backends []graphios.Backend
	Logger   logrus.FieldLogger
	// Parallel sends to all backends concurrently instead of one after the other.
	Parallel bool
	// SendTimeout bounds each backend's SendMetrics call. 0 disables the timeout.
	SendTimeout time.Duration
}

// Result holds the outcome of one Dispatch, keyed by backend name.
type Result struct {
	Sent      map[string]int
	Errors    map[string]error
	Durations map[string]time.Duration
}

// Total returns the number of metrics delivered summed over all backends.
func (r Result) Total() int {
	total := 0
	for _, n := range r.Sent {
		total += n
	}
	return total
}

// Failed returns the sorted names of the backends that returned an error.
func (r Result) Failed() []string {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err combines the errors of all failed backends, or returns nil.
func (r Result) Err() error {
	var err error
	for _, name := range r.Failed() {
		err = multierr.Append(err, r.Errors[name])
	}
	return err
}

// Dispatch calls SendMetrics on every backend with metrics and collects the outcomes. A failing
// backend does not prevent the others from being called.
func (d *Dispatcher) Dispatch(ctx context.Context, metrics []*graphios.Metric) Result {
	res := Result{
		Sent:      make(map[string]int, len(d.Backends)),
		Errors:    map[string]error{},
		Durations: make(map[string]time.Duration, len(d.Backends)),
	}
	var mu sync.Mutex
	send := func(b graphios.Backend) {
		n, took, err := d.send(ctx, b, metrics)
		mu.Lock()
		defer mu.Unlock()
		res.Sent[b.Name()] = n
		res.Durations[b.Name()] = took
		if err != nil {
			res.Errors[b.Name()] = err
		}
	}

	if !d.Parallel {
		for _, b := range d.Backends {
			send(b)
		}
		return res
	}

	var wg wait.Group
	for _, b := range d.Backends {
		b := b
		wg.Start(func() {
			send(b)
		})
	}
	wg.Wait()
	return res
}

func (d *Dispatcher) send(ctx context.Context, b graphios.Backend, metrics []*graphios.Metric) (int, time.Duration, error) {
	clck := clock.FromContext(ctx)
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	start := clck.Now()
	n, err := b.SendMetrics(ctx, metrics)
	took := clck.Now().Sub(start)
	if err != nil {
		n = 0
	}

	log := d.logger().WithFields(logrus.Fields{
		"backend":  b.Name(),
		"metrics":  len(metrics),
		"sent":     n,
		"duration": took,
	})
	if err != nil {
		log.WithError(err).Warn("failed to send metrics")
	} else {
		log.Debug("sent metrics")
	}
	return n, took, err
}

func (d *Dispatcher) logger() logrus.FieldLogger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}
