package librato

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	// BackendName is the name of this backend.
	BackendName = "librato"

	sinkName    = "graphios-librato"
	sinkVersion = "0.0.1"
	metricsPath = "/v1/metrics"
	// maxResponseSize is the maximum response size we are willing to read.
	maxResponseSize = 10 * 1024
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client accumulates metrics as gauges and posts them to the Librato metrics API.
type Client struct {
	logger       logrus.FieldLogger
	client       *http.Client
	url          string
	email        string
	token        string
	userAgent    string
	nameFields   []string
	sourceFields []string
	floor        int64
	whitelist    *graphios.Whitelist
	maxMetrics   int
	flushTimeout time.Duration
	retry        util.BackoffFactory
	limiter      *rate.Limiter // nil when unlimited

	mu     sync.Mutex
	gauges *gauges
}

var _ graphios.Backend = (*Client)(nil)

type payload struct {
	Gauges []*gauge `json:"gauges"`
}

// NewClientFromViper constructs a librato backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	cfg, err := NewConfig(v)
	if err != nil {
		return nil, err
	}
	httpClient, err := pool.Get(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("[%s] %v", BackendName, err)
	}
	return NewClient(cfg, httpClient, logger.WithField("backend", BackendName))
}

// NewClient constructs a librato backend from a validated Config.
func NewClient(cfg *Config, httpClient *http.Client, logger logrus.FieldLogger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	whitelist, err := graphios.NewWhitelist(cfg.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("[%s] %s: %v", BackendName, ParamWhitelist, err)
	}
	retry := cfg.Retry
	if retry == nil {
		retry = func() backoff.BackOff { return &backoff.StopBackOff{} }
	}
	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	logger.WithFields(logrus.Fields{
		ParamAPI:                  cfg.API,
		ParamEmail:                cfg.Email,
		ParamToken:                "(set)",
		ParamNameFields:           cfg.NameFields,
		ParamSourceFields:         cfg.SourceFields,
		ParamFloorTimeSecs:        cfg.FloorTimeSecs,
		ParamWhitelist:            whitelist.Len(),
		ParamMaxMetrics:           cfg.MaxMetrics,
		ParamFlushTimeout:         cfg.FlushTimeout,
		ParamTransport:            cfg.Transport,
		ParamMaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
	}).Info("created backend")

	return &Client{
		logger:       logger,
		client:       httpClient,
		url:          strings.TrimSuffix(cfg.API, "/") + metricsPath,
		email:        cfg.Email,
		token:        cfg.Token,
		userAgent:    userAgent(),
		nameFields:   cfg.NameFields,
		sourceFields: cfg.SourceFields,
		floor:        cfg.FloorTimeSecs,
		whitelist:    whitelist,
		maxMetrics:   cfg.MaxMetrics,
		flushTimeout: cfg.FlushTimeout,
		retry:        retry,
		limiter:      limiter,
		gauges:       newGauges(),
	}, nil
}

func userAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s) Go/%s",
		sinkName, sinkVersion, runtime.GOOS, runtime.GOARCH, strings.TrimPrefix(runtime.Version(), "go"))
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// SendMetrics accumulates metrics and flushes the accumulator. It returns the number of metrics
// received, or 0 if any request failed. The accumulator is emptied after every call, so gauges from a
// failed request are dropped.
func (client *Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	defer client.gauges.reset()

	for _, m := range metrics {
		client.addMeasure(m)
	}
	if err := client.flush(ctx); err != nil {
		return 0, err
	}
	return len(metrics), nil
}

func (client *Client) addMeasure(m *graphios.Metric) {
	ts, err := m.Unix()
	if err != nil {
		client.logger.WithError(err).WithField("metric", m).Debug("skipping metric with invalid timestamp")
		return
	}
	if client.floor > 0 {
		ts = (ts / client.floor) * client.floor
	}

	source := graphios.JoinFields(m, client.sourceFields)
	name := graphios.JoinFields(m, client.nameFields)
	if !client.whitelist.Match(gaugeKey(name, source)) {
		return
	}

	value, err := m.Float()
	if err != nil {
		client.logger.WithError(err).WithField("metric", m).Debug("skipping metric with invalid value")
		return
	}
	client.gauges.add(name, source, ts, value)
}

// flush posts every chunk of the accumulator, even after a failed one.
func (client *Client) flush(ctx context.Context) error {
	if client.gauges.len() == 0 {
		return nil
	}
	var errs error
	_ = graphios.Chunks(client.gauges.values(), client.maxMetrics, func(chunk []*gauge) error {
		errs = multierr.Append(errs, client.post(ctx, chunk))
		return nil
	})
	return errs
}

func (client *Client) post(ctx context.Context, chunk []*gauge) error {
	body, err := json.Marshal(payload{Gauges: chunk})
	if err != nil {
		return fmt.Errorf("[%s] unable to marshal gauges: %v", BackendName, err)
	}
	client.logger.WithField("gauges", len(chunk)).Debug("posting gauges")

	if client.limiter != nil {
		if err := client.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("[%s] %v", BackendName, err)
		}
	}

	b := backoff.WithContext(client.retry(), ctx)
	err = backoff.RetryNotify(client.doPost(ctx, body), b, func(err error, d time.Duration) {
		client.logger.WithError(err).WithField("sleep", d).Warn("failed to send gauges, retrying")
	})
	if err != nil {
		return fmt.Errorf("[%s] %v", BackendName, err)
	}
	return nil
}

func (client *Client) doPost(ctx context.Context, body []byte) backoff.Operation {
	return func() error {
		ctx, cancel := context.WithTimeout(ctx, client.flushTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("unable to create http.Request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", client.userAgent)
		req.SetBasicAuth(client.email, client.token)

		resp, err := client.client.Do(req)
		if err != nil {
			client.logger.WithError(err).Warn("error when sending metrics")
			return fmt.Errorf("error POSTing: %s", strings.ReplaceAll(err.Error(), client.token, "*****"))
		}
		defer resp.Body.Close()
		respBody := io.LimitReader(resp.Body, maxResponseSize)
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			b, _ := io.ReadAll(respBody)
			client.logger.WithFields(logrus.Fields{
				"status": resp.StatusCode,
				"body":   string(b),
			}).Warn("failed to send metrics")
			return fmt.Errorf("received bad status code %d", resp.StatusCode)
		}
		_, _ = io.Copy(io.Discard, respBody)
		return nil
	}
}
