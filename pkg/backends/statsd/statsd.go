package statsd

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	// BackendName is the name of this backend.
	BackendName = "statsd"
	// DefaultServers is the default statsd server list.
	DefaultServers = "127.0.0.1:8125"
	// DefaultProtocol is the default transport.
	DefaultProtocol = "udp"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 10 * time.Second
	// maxUDPPacketSize is the largest datagram that fits an IPv4/IPv6 packet on a 1500 byte MTU
	// without fragmentation.
	maxUDPPacketSize = 1432

	ParamServers       = "statsd_servers"
	ParamProtocol      = "statsd_protocol"
	ParamDialTimeout   = "statsd_dial_timeout"
	ParamWriteTimeout  = "statsd_write_timeout"
	ParamTLS           = "statsd_tls"
	ParamTLSCAPath     = "statsd_tls_ca_path"
	ParamTLSCertPath   = "statsd_tls_cert_path"
	ParamTLSKeyPath    = "statsd_tls_key_path"
	ParamTLSServerName = "statsd_tls_server_name"
)

// Metric types of the statsd line protocol.
const (
	TypeGauge   = "g"
	TypeCounter = "c"
	TypeTimer   = "ms"
	TypeSet     = "s"
)

// Client is an object that is used to send metrics to one or more statsd servers.
type Client struct {
	logger       logrus.FieldLogger
	servers      []string
	protocol     string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	tlsConfig    *tls.Config
}

var _ graphios.Backend = (*Client)(nil)

// NewClientFromViper constructs a statsd backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	v.SetDefault(ParamServers, DefaultServers)
	v.SetDefault(ParamProtocol, DefaultProtocol)
	v.SetDefault(ParamDialTimeout, DefaultDialTimeout)
	v.SetDefault(ParamWriteTimeout, DefaultWriteTimeout)
	v.SetDefault(ParamTLS, false)

	protocol := strings.ToLower(strings.TrimSpace(v.GetString(ParamProtocol)))
	tlsConfig, err := tlsOptionsFromViper(v).Config(protocol)
	if err != nil {
		return nil, err
	}

	return NewClient(
		util.GetStringList(v, ParamServers),
		protocol,
		v.GetDuration(ParamDialTimeout),
		v.GetDuration(ParamWriteTimeout),
		tlsConfig,
		logger.WithField("backend", BackendName),
	)
}

// NewClient constructs a statsd backend. Every server must be host:port.
func NewClient(
	servers []string,
	protocol string,
	dialTimeout time.Duration,
	writeTimeout time.Duration,
	tlsConfig *tls.Config,
	logger logrus.FieldLogger,
) (*Client, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("[%s] %s is required", BackendName, ParamServers)
	}
	for _, server := range servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			return nil, fmt.Errorf("[%s] invalid server %q: %v", BackendName, server, err)
		}
	}
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "udp", "tcp":
	default:
		return nil, fmt.Errorf("[%s] %s must be udp or tcp, got %q", BackendName, ParamProtocol, protocol)
	}
	if tlsConfig != nil && protocol != "tcp" {
		return nil, fmt.Errorf("[%s] %s requires %s=tcp", BackendName, ParamTLS, ParamProtocol)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] %s should be positive", BackendName, ParamDialTimeout)
	}
	if writeTimeout < 0 {
		return nil, fmt.Errorf("[%s] %s should be non-negative", BackendName, ParamWriteTimeout)
	}

	logger.WithFields(logrus.Fields{
		ParamServers:      servers,
		ParamProtocol:     protocol,
		ParamDialTimeout:  dialTimeout,
		ParamWriteTimeout: writeTimeout,
		ParamTLS:          tlsConfig != nil,
	}).Info("created backend")

	return &Client{
		logger:       logger,
		servers:      servers,
		protocol:     protocol,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		tlsConfig:    tlsConfig,
	}, nil
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// InferType maps a free text type hint to a statsd metric type. Matching is a case-insensitive
// substring search; anything unrecognised is a gauge.
func InferType(hint string) string {
	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "gauge"):
		return TypeGauge
	case strings.Contains(hint, "counter"):
		return TypeCounter
	case strings.Contains(hint, "time"):
		return TypeTimer
	case strings.Contains(hint, "set"):
		return TypeSet
	}
	return TypeGauge
}

// SendMetrics sends metrics to every server in turn. The first server that fails ends the call
// with a count of 0; otherwise the number of metrics is returned once, regardless of the number of servers.
func (client *Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	lines := make([][]byte, 0, len(metrics))
	for _, m := range metrics {
		lines = append(lines, formatLine(m))
	}
	for _, addr := range client.servers {
		if err := client.sendTo(ctx, addr, lines); err != nil {
			client.logger.WithError(err).WithField("server", addr).Error("error sending to statsd")
			return 0, fmt.Errorf("[%s] %s: %w", BackendName, addr, err)
		}
	}
	return len(metrics), nil
}

func formatLine(m *graphios.Metric) []byte {
	return []byte(fmt.Sprintf("%s:%s|%s\n", graphios.StatsdPath(m), strings.TrimSpace(m.Value), InferType(m.MetricType)))
}

func (client *Client) sendTo(ctx context.Context, addr string, lines [][]byte) error {
	conn, err := client.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, payload := range client.payloads(lines) {
		if client.writeTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(client.writeTimeout)); err != nil {
				return err
			}
		}
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func (client *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: client.dialTimeout}
	if client.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: d, Config: client.tlsConfig}
		return td.DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, client.protocol, addr)
}

// payloads packs lines into network writes. Over TCP everything goes in one write; over UDP
// lines are packed into datagrams no larger than maxUDPPacketSize.
func (client *Client) payloads(lines [][]byte) [][]byte {
	var buf bytes.Buffer
	if client.protocol != "udp" {
		for _, line := range lines {
			buf.Write(line)
		}
		return [][]byte{buf.Bytes()}
	}

	var payloads [][]byte
	for _, line := range lines {
		// Make sure we don't go over max udp datagram size
		if buf.Len() > 0 && buf.Len()+len(line) > maxUDPPacketSize {
			payloads = append(payloads, bytes.Clone(buf.Bytes()))
			buf.Reset()
		}
		buf.Write(line)
	}
	if buf.Len() > 0 {
		payloads = append(payloads, bytes.Clone(buf.Bytes()))
	}
	return payloads
}
