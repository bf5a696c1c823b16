package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	influx "github.com/influxdata/influxdb/client/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	// BackendName is the name of this backend.
	BackendName = "influxdb"

	DefaultServers  = "127.0.0.1:8086"
	DefaultPort     = "8086"
	DefaultDatabase = "nagios"
	DefaultTimeout  = 5 * time.Second

	ParamServers            = "influxdb_servers"
	ParamUseSSL             = "influxdb_use_ssl"
	ParamUser               = "influxdb_user"
	ParamPassword           = "influxdb_password"
	ParamDatabase           = "influxdb_db"
	ParamExtraTags          = "influxdb_extra_tags"
	ParamWhitelist          = "inluxdb_whitelist"
	ParamWhitelistAlias     = "influxdb_whitelist"
	ParamTimeout            = "influxdb_timeout"
	ParamInsecureSkipVerify = "influxdb_insecure_skip_verify"

	hostTag   = "host"
	precision = "s"
)

var (
	errUserRequired     = errors.New("[" + BackendName + "] " + ParamUser + " is required")
	errPasswordRequired = errors.New("[" + BackendName + "] " + ParamPassword + " is required")
)

// Client writes one point per metric to an InfluxDB database.
type Client struct {
	logger    logrus.FieldLogger
	client    influx.Client
	addr      string
	database  string
	extraTags map[string]string
	whitelist graphios.SubstringWhitelist
}

var _ graphios.Backend = (*Client)(nil)

// NewClientFromViper constructs an influxdb backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	v.SetDefault(ParamServers, DefaultServers)
	v.SetDefault(ParamUseSSL, false)
	v.SetDefault(ParamUser, "")
	v.SetDefault(ParamPassword, "")
	v.SetDefault(ParamDatabase, DefaultDatabase)
	v.SetDefault(ParamTimeout, DefaultTimeout)
	v.SetDefault(ParamInsecureSkipVerify, false)

	extraTags, _, err := util.GetJSONStringMap(v, ParamExtraTags)
	if err != nil {
		return nil, fmt.Errorf("[%s] %s must be a JSON object of strings: %v", BackendName, ParamExtraTags, err)
	}

	whitelistKey := ParamWhitelist
	if !v.IsSet(whitelistKey) {
		whitelistKey = ParamWhitelistAlias
	}
	whitelist, _, err := util.GetJSONStringList(v, whitelistKey)
	if err != nil {
		return nil, fmt.Errorf("[%s] %s must be a JSON list of strings: %v", BackendName, whitelistKey, err)
	}

	servers := util.GetStringList(v, ParamServers)
	if len(servers) == 0 {
		return nil, fmt.Errorf("[%s] %s is required", BackendName, ParamServers)
	}
	if len(servers) > 1 {
		logger.WithField(ParamServers, servers).Warn("only the first server is used")
	}

	return NewClient(
		servers[0],
		v.GetBool(ParamUseSSL),
		v.GetString(ParamUser),
		v.GetString(ParamPassword),
		v.GetString(ParamDatabase),
		extraTags,
		whitelist,
		v.GetDuration(ParamTimeout),
		v.GetBool(ParamInsecureSkipVerify),
		logger.WithField("backend", BackendName),
	)
}

// NewClient constructs an influxdb backend. server is host[:port]. An empty whitelist allows every
// service description.
func NewClient(
	server string,
	useSSL bool,
	user, password, database string,
	extraTags map[string]string,
	whitelist []string,
	timeout time.Duration,
	insecureSkipVerify bool,
	logger logrus.FieldLogger,
) (*Client, error) {
	if user == "" {
		return nil, errUserRequired
	}
	if password == "" {
		return nil, errPasswordRequired
	}
	if database == "" {
		return nil, fmt.Errorf("[%s] %s is required", BackendName, ParamDatabase)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("[%s] %s should be positive", BackendName, ParamTimeout)
	}

	hostPort := server
	if !strings.Contains(server, ":") {
		hostPort = net.JoinHostPort(server, DefaultPort)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		return nil, fmt.Errorf("[%s] invalid server %q: %v", BackendName, server, err)
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	addr := scheme + "://" + hostPort

	hc, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:               addr,
		Username:           user,
		Password:           password,
		Timeout:            timeout,
		InsecureSkipVerify: insecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %v", BackendName, err)
	}

	var wl graphios.SubstringWhitelist
	if len(whitelist) > 0 {
		wl = whitelist
	}

	logger.WithFields(logrus.Fields{
		"address":               addr,
		ParamUser:               user,
		ParamPassword:           "(set)",
		ParamDatabase:           database,
		ParamExtraTags:          extraTags,
		ParamWhitelist:          whitelist,
		ParamTimeout:            timeout,
		ParamInsecureSkipVerify: insecureSkipVerify,
	}).Info("created backend")

	return &Client{
		logger:    logger,
		client:    hc,
		addr:      addr,
		database:  database,
		extraTags: extraTags,
		whitelist: wl,
	}, nil
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// SendMetrics writes all eligible metrics in a single request and returns the number of points
// written. Metrics outside the whitelist or without a numeric value are skipped.
func (client *Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  client.database,
		Precision: precision,
	})
	if err != nil {
		return 0, fmt.Errorf("[%s] %v", BackendName, err)
	}
	for _, m := range metrics {
		if pt := client.point(m); pt != nil {
			bp.AddPoint(pt)
		}
	}

	count := len(bp.Points())
	if count == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := client.client.Write(bp); err != nil {
		client.logger.WithError(err).WithField("points", count).Error("failed to write points")
		return 0, fmt.Errorf("[%s] %v", BackendName, err)
	}
	return count, nil
}

func (client *Client) point(m *graphios.Metric) *influx.Point {
	if !client.whitelist.Match(m.ServiceDesc) {
		return nil
	}
	log := client.logger.WithField("metric", m)
	ts, err := m.Unix()
	if err != nil {
		log.WithError(err).Debug("skipping metric with invalid timestamp")
		return nil
	}
	value, err := m.Float()
	if err != nil {
		log.WithError(err).Debug("skipping metric with invalid value")
		return nil
	}

	tags := map[string]string{hostTag: m.Hostname}
	for k, v := range client.extraTags {
		if _, ok := tags[k]; !ok {
			tags[k] = v
		}
	}
	pt, err := influx.NewPoint(m.ServiceDesc, tags, map[string]interface{}{m.Label: value}, time.Unix(ts, 0).UTC())
	if err != nil {
		log.WithError(err).Debug("skipping metric that is not a valid point")
		return nil
	}
	return pt
}
