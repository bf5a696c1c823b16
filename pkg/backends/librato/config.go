package librato

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	DefaultAPI           = "https://metrics-api.librato.com"
	DefaultFloorTimeSecs = 15
	DefaultMaxMetrics    = 500
	DefaultFlushTimeout  = 5 * time.Second

	ParamAPI                  = "librato_api"
	ParamEmail                = "librato_email"
	ParamToken                = "librato_token"
	ParamNameFields           = "librato_namevals"
	ParamSourceFields         = "librato_sourcevals"
	ParamFloorTimeSecs        = "librato_floor_time_secs"
	ParamWhitelist            = "librato_whitelist"
	ParamMaxMetrics           = "librato_max_metrics"
	ParamFlushTimeout         = "librato_flush_timeout"
	ParamTransport            = "librato_transport"
	ParamMaxRequestsPerSecond = "librato_max_requests_per_second"

	// retryPrefix is prepended to the retry_* keys read by util.GetRetryFromViper.
	retryPrefix = "librato_"
)

var (
	errEmailRequired = errors.New("[" + BackendName + "] " + ParamEmail + " is required")
	errTokenRequired = errors.New("[" + BackendName + "] " + ParamToken + " is required")
)

// DefaultNameFields and DefaultSourceFields are the metric fields joined into a gauge name and source.
var (
	DefaultNameFields = []string{
		graphios.FieldMetricBasePath,
		graphios.FieldGraphitePrefix,
		graphios.FieldServiceDesc,
		graphios.FieldGraphitePostfix,
		graphios.FieldLabel,
	}
	DefaultSourceFields = []string{graphios.FieldHostname}
)

type Config struct {
	// API is the base URL of the metrics API.
	API string
	// Email (Required) and Token (Required) authenticate every request.
	Email string
	Token string
	// NameFields and SourceFields name the metric fields joined into the gauge name and source.
	NameFields   []string
	SourceFields []string
	// FloorTimeSecs rounds measure times down to a multiple of itself. 0 disables flooring.
	FloorTimeSecs int64
	// Whitelist holds regular expressions matched against "name\tsource". Empty allows everything.
	Whitelist []string
	// MaxMetrics is the number of gauges sent in one request.
	MaxMetrics int
	// FlushTimeout bounds every request.
	FlushTimeout time.Duration
	// Transport references the transport.<name> section used for the http.Client.
	Transport string
	// MaxRequestsPerSecond limits the request rate. 0 means no limit.
	MaxRequestsPerSecond float64
	// Retry builds the backoff policy of a single request.
	Retry util.BackoffFactory
}

func newDefaultConfig() Config {
	return Config{
		API:           DefaultAPI,
		NameFields:    DefaultNameFields,
		SourceFields:  DefaultSourceFields,
		FloorTimeSecs: DefaultFloorTimeSecs,
		MaxMetrics:    DefaultMaxMetrics,
		FlushTimeout:  DefaultFlushTimeout,
		Transport:     transport.DefaultName,
	}
}

// NewConfig reads and validates the librato configuration.
func NewConfig(v *viper.Viper) (*Config, error) {
	cfg := newDefaultConfig()
	v.SetDefault(ParamAPI, cfg.API)
	v.SetDefault(ParamEmail, "")
	v.SetDefault(ParamToken, "")
	v.SetDefault(ParamFloorTimeSecs, cfg.FloorTimeSecs)
	v.SetDefault(ParamMaxMetrics, cfg.MaxMetrics)
	v.SetDefault(ParamFlushTimeout, cfg.FlushTimeout)
	v.SetDefault(ParamTransport, cfg.Transport)
	v.SetDefault(ParamMaxRequestsPerSecond, 0)

	cfg.API = v.GetString(ParamAPI)
	cfg.Email = v.GetString(ParamEmail)
	cfg.Token = v.GetString(ParamToken)
	if fields := util.GetStringList(v, ParamNameFields); len(fields) > 0 {
		cfg.NameFields = fields
	}
	if fields := util.GetStringList(v, ParamSourceFields); len(fields) > 0 {
		cfg.SourceFields = fields
	}
	cfg.FloorTimeSecs = v.GetInt64(ParamFloorTimeSecs)
	cfg.MaxMetrics = v.GetInt(ParamMaxMetrics)
	cfg.FlushTimeout = v.GetDuration(ParamFlushTimeout)
	cfg.Transport = v.GetString(ParamTransport)
	cfg.MaxRequestsPerSecond = v.GetFloat64(ParamMaxRequestsPerSecond)

	whitelist, _, err := util.GetJSONStringList(v, ParamWhitelist)
	if err != nil {
		return nil, fmt.Errorf("[%s] %s must be a JSON list of strings: %v", BackendName, ParamWhitelist, err)
	}
	cfg.Whitelist = whitelist

	if cfg.Retry, err = util.GetRetryFromViper(v, retryPrefix); err != nil {
		return nil, fmt.Errorf("[%s] %v", BackendName, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() (errs error) {
	if c.Email == "" {
		errs = multierr.Append(errs, errEmailRequired)
	}
	if c.Token == "" {
		errs = multierr.Append(errs, errTokenRequired)
	}
	if u, err := url.Parse(c.API); err != nil || u.Scheme == "" || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("[%s] %s must be an absolute URL, got %q", BackendName, ParamAPI, c.API))
	}
	if err := graphios.ValidateFields(c.NameFields); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("[%s] %s: %v", BackendName, ParamNameFields, err))
	}
	if err := graphios.ValidateFields(c.SourceFields); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("[%s] %s: %v", BackendName, ParamSourceFields, err))
	}
	if c.FloorTimeSecs < 0 {
		errs = multierr.Append(errs, errors.New("["+BackendName+"] "+ParamFloorTimeSecs+" must not be negative"))
	}
	if c.MaxMetrics <= 0 {
		errs = multierr.Append(errs, errors.New("["+BackendName+"] "+ParamMaxMetrics+" must be positive"))
	}
	if c.FlushTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("["+BackendName+"] "+ParamFlushTimeout+" must be positive"))
	}
	if c.MaxRequestsPerSecond < 0 {
		errs = multierr.Append(errs, errors.New("["+BackendName+"] "+ParamMaxRequestsPerSecond+" must not be negative"))
	}
	if c.Transport == "" {
		errs = multierr.Append(errs, errors.New("["+BackendName+"] "+ParamTransport+" must not be empty"))
	}
	return errs
}
