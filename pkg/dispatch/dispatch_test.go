package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/internal/fixtures"
	"github.com/graphios/graphios/pkg/backends/null"
)

type fakeBackend struct {
	name  string
	n     int
	err   error
	calls int32
	fn    func(ctx context.Context)
}

func (f *fakeBackend) Name() string {
	return f.name
}

func (f *fakeBackend) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fn != nil {
		f.fn(ctx)
	}
	return f.n, f.err
}

func testMetrics() []*graphios.Metric {
	return []*graphios.Metric{fixtures.MakeMetric(), fixtures.MakeMetric(fixtures.Label("load5"))}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		parallel := parallel
		t.Run("", func(t *testing.T) {
			t.Parallel()
			failing := &fakeBackend{name: "carbon", err: errors.New("connection refused")}
			ok := &fakeBackend{name: "statsd", n: 2}
			d := &Dispatcher{
				Backends: []graphios.Backend{failing, ok, null.NewClient()},
				Logger:   fixtures.NewTestLogger(t),
				Parallel: parallel,
			}
			res := d.Dispatch(context.Background(), testMetrics())

			assert.EqualValues(t, 1, failing.calls)
			assert.EqualValues(t, 1, ok.calls)
			assert.Equal(t, map[string]int{"carbon": 0, "statsd": 2, "null": 2}, res.Sent)
			assert.Equal(t, 4, res.Total())
			assert.Equal(t, []string{"carbon"}, res.Failed())
			require.Error(t, res.Err())
			assert.Contains(t, res.Err().Error(), "connection refused")
		})
	}
}

func TestCountIgnoredOnError(t *testing.T) {
	t.Parallel()
	d := &Dispatcher{
		Backends: []graphios.Backend{&fakeBackend{name: "librato", n: 5, err: errors.New("bad status")}},
	}
	res := d.Dispatch(context.Background(), testMetrics())
	assert.Zero(t, res.Total())
	assert.Equal(t, []string{"librato"}, res.Failed())
}

func TestNothingToSendIsNotAFailure(t *testing.T) {
	t.Parallel()
	d := &Dispatcher{
		Backends: []graphios.Backend{&fakeBackend{name: "influxdb"}},
		Logger:   fixtures.NewTestLogger(t),
	}
	res := d.Dispatch(context.Background(), nil)
	assert.Zero(t, res.Total())
	assert.Empty(t, res.Failed())
	assert.NoError(t, res.Err())
}

func TestDurationUsesContextClock(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock(time.Unix(1700000000, 0))
	ctx := clock.Context(context.Background(), mock)
	slow := &fakeBackend{name: "librato", n: 1, fn: func(ctx context.Context) {
		mock.Add(3 * time.Second)
	}}
	d := &Dispatcher{
		Backends: []graphios.Backend{slow},
		Logger:   fixtures.NewTestLogger(t),
	}
	res := d.Dispatch(ctx, testMetrics())
	assert.Equal(t, 3*time.Second, res.Durations["librato"])
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()
	var deadline time.Time
	var hasDeadline bool
	b := &fakeBackend{name: "carbon", fn: func(ctx context.Context) {
		deadline, hasDeadline = ctx.Deadline()
	}}
	d := &Dispatcher{
		Backends:    []graphios.Backend{b},
		Logger:      fixtures.NewTestLogger(t),
		SendTimeout: time.Minute,
	}
	d.Dispatch(context.Background(), testMetrics())
	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 10*time.Second)

	d.SendTimeout = 0
	d.Dispatch(context.Background(), testMetrics())
	assert.False(t, hasDeadline)
}
