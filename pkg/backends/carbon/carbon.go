package carbon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	pickle "github.com/kisielk/og-rek"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	// BackendName is the name of this backend.
	BackendName = "carbon"
	// DefaultServers is the default list of carbon servers.
	DefaultServers = "127.0.0.1"
	// DefaultPlaintextPort is the port of the carbon line receiver.
	DefaultPlaintextPort = 2003
	// DefaultPicklePort is the port of the carbon pickle receiver.
	DefaultPicklePort = 2004
	// DefaultReplacementCharacter replaces characters carbon does not accept in a path.
	DefaultReplacementCharacter = "_"
	// DefaultMaxMetrics is the default number of metrics per message.
	DefaultMaxMetrics = 200
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second

	ParamServers              = "carbon_servers"
	ParamReplacementCharacter = "replacement_character"
	ParamMaxMetrics           = "carbon_max_metrics"
	ParamUseServiceDesc       = "use_service_desc"
	ParamMetricBasePath       = "metric_base_path"
	ParamTestMode             = "test_mode"
	ParamPlaintext            = "carbon_plaintext"
	ParamDialTimeout          = "carbon_dial_timeout"
	ParamWriteTimeout         = "carbon_write_timeout"

	// pickleProtocol is understood by both Python 2 and Python 3 carbon receivers.
	pickleProtocol = 2
)

var errMaxMetricsNotPositive = errors.New("[" + BackendName + "] " + ParamMaxMetrics + " must be a positive integer")

// Client sends metrics to one or more carbon servers over TCP, either with the plaintext line
// protocol or as length-prefixed pickled batches.
type Client struct {
	logger         logrus.FieldLogger
	servers        []string // host:port
	sanitizer      graphios.CarbonSanitizer
	maxMetrics     int
	useServiceDesc bool
	basePath       string
	plaintext      bool
	testMode       bool
	echo           io.Writer // receives every line in test mode
	dialer         func(ctx context.Context, network, addr string) (net.Conn, error)
	writeTimeout   time.Duration
}

var _ graphios.Backend = (*Client)(nil)

// NewClientFromViper constructs a Client object using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger, pool *transport.TransportPool) (graphios.Backend, error) {
	v.SetDefault(ParamServers, DefaultServers)
	v.SetDefault(ParamReplacementCharacter, DefaultReplacementCharacter)
	v.SetDefault(ParamMaxMetrics, DefaultMaxMetrics)
	v.SetDefault(ParamUseServiceDesc, false)
	v.SetDefault(ParamMetricBasePath, "")
	v.SetDefault(ParamTestMode, false)
	v.SetDefault(ParamPlaintext, false)
	v.SetDefault(ParamDialTimeout, DefaultDialTimeout)
	v.SetDefault(ParamWriteTimeout, DefaultWriteTimeout)

	maxMetrics, err := strconv.Atoi(strings.TrimSpace(v.GetString(ParamMaxMetrics)))
	if err != nil {
		return nil, errMaxMetricsNotPositive
	}

	return NewClient(
		util.GetStringList(v, ParamServers),
		v.GetString(ParamReplacementCharacter),
		maxMetrics,
		v.GetBool(ParamUseServiceDesc),
		v.GetString(ParamMetricBasePath),
		v.GetBool(ParamPlaintext),
		v.GetBool(ParamTestMode),
		v.GetDuration(ParamDialTimeout),
		v.GetDuration(ParamWriteTimeout),
		logger.WithField("backend", BackendName),
	)
}

// NewClient constructs a carbon backend object. Each server is host[:port]; the port defaults
// to 2003 in plaintext mode and 2004 otherwise.
func NewClient(
	servers []string,
	replacementCharacter string,
	maxMetrics int,
	useServiceDesc bool,
	basePath string,
	plaintext bool,
	testMode bool,
	dialTimeout time.Duration,
	writeTimeout time.Duration,
	logger logrus.FieldLogger,
) (*Client, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("[%s] %s is required", BackendName, ParamServers)
	}
	if maxMetrics <= 0 {
		return nil, errMaxMetricsNotPositive
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] %s should be positive", BackendName, ParamDialTimeout)
	}
	if writeTimeout < 0 {
		return nil, fmt.Errorf("[%s] %s should be non-negative", BackendName, ParamWriteTimeout)
	}

	defaultPort := DefaultPicklePort
	if plaintext {
		defaultPort = DefaultPlaintextPort
	}
	addrs := make([]string, 0, len(servers))
	for _, server := range servers {
		addr, err := serverAddress(server, defaultPort)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	logger.WithFields(logrus.Fields{
		ParamServers:              addrs,
		ParamReplacementCharacter: replacementCharacter,
		ParamMaxMetrics:           maxMetrics,
		ParamUseServiceDesc:       useServiceDesc,
		ParamMetricBasePath:       basePath,
		ParamPlaintext:            plaintext,
		ParamTestMode:             testMode,
		ParamDialTimeout:          dialTimeout,
		ParamWriteTimeout:         writeTimeout,
	}).Info("created backend")

	return &Client{
		logger:         logger,
		servers:        addrs,
		sanitizer:      graphios.NewCarbonSanitizer(replacementCharacter),
		maxMetrics:     maxMetrics,
		useServiceDesc: useServiceDesc,
		basePath:       basePath,
		plaintext:      plaintext,
		testMode:       testMode,
		echo:           os.Stdout,
		dialer:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		writeTimeout:   writeTimeout,
	}, nil
}

func serverAddress(server string, defaultPort int) (string, error) {
	if !strings.Contains(server, ":") {
		return net.JoinHostPort(server, strconv.Itoa(defaultPort)), nil
	}
	host, port, err := net.SplitHostPort(server)
	if err != nil {
		return "", fmt.Errorf("[%s] invalid server %q: %v", BackendName, server, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("[%s] invalid port in server %q", BackendName, server)
	}
	return net.JoinHostPort(host, port), nil
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// SendMetrics sends all metrics to every configured server. A failure to reach or write to any
// server makes the whole call return 0: the result is either the full count per server or nothing.
// A write failure stops the call immediately; a server that cannot be connected to is skipped and
// the remaining servers are still attempted.
func (client *Client) SendMetrics(ctx context.Context, metrics []*graphios.Metric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	messages, err := client.convertMessages(metrics)
	if err != nil {
		return 0, err
	}

	var connectErrs error
	sent := 0
	for _, addr := range client.servers {
		log := client.logger.WithField("server", addr)
		log.Debug("connecting to carbon")
		conn, err := client.dial(ctx, addr)
		if err != nil {
			log.WithError(err).Warn("can't connect to carbon")
			connectErrs = multierr.Append(connectErrs, fmt.Errorf("[%s] connect to %s: %w", BackendName, addr, err))
			continue
		}
		err = client.write(conn, messages)
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			log.WithError(err).Error("can't send message to carbon")
			return 0, fmt.Errorf("[%s] send to %s: %w", BackendName, addr, err)
		}
		sent += len(metrics)
	}
	if connectErrs != nil {
		return 0, connectErrs
	}
	return sent, nil
}

func (client *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	return client.dialer(ctx, "tcp", addr)
}

func (client *Client) write(conn net.Conn, messages [][]byte) error {
	for _, msg := range messages {
		if client.writeTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(client.writeTimeout)); err != nil {
				client.logger.WithError(err).Warn("failed to set write deadline")
			}
		}
		if _, err := conn.Write(msg); err != nil {
			return err
		}
	}
	return nil
}

// datapoint is a converted metric ready to be framed.
type datapoint struct {
	path      string
	value     string
	timestamp string
}

func (client *Client) buildPath(m *graphios.Metric) string {
	if m.MetricBasePath == "" && client.basePath != "" {
		withBase := *m
		withBase.MetricBasePath = client.basePath
		m = &withBase
	}
	return graphios.CarbonPath(m, client.useServiceDesc, client.sanitizer)
}

// convertMessages turns metrics into one wire message per chunk of at most maxMetrics metrics.
func (client *Client) convertMessages(metrics []*graphios.Metric) ([][]byte, error) {
	points := make([]datapoint, 0, len(metrics))
	for _, m := range metrics {
		dp := datapoint{
			path:      client.buildPath(m),
			value:     strings.TrimSpace(m.Value),
			timestamp: strings.TrimSpace(m.Timestamp),
		}
		if client.testMode {
			_, _ = fmt.Fprintf(client.echo, "%s %s %s\n", dp.path, dp.value, dp.timestamp)
		}
		points = append(points, dp)
	}

	messages := make([][]byte, 0, len(points)/client.maxMetrics+1)
	err := graphios.Chunks(points, client.maxMetrics, func(chunk []datapoint) error {
		var msg []byte
		var err error
		if client.plaintext {
			msg = plaintextMessage(chunk)
		} else if msg, err = pickleMessage(chunk); err != nil {
			return fmt.Errorf("[%s] failed to serialize batch: %w", BackendName, err)
		}
		messages = append(messages, msg)
		return nil
	})
	return messages, err
}

func plaintextMessage(chunk []datapoint) []byte {
	var buf bytes.Buffer
	for _, dp := range chunk {
		buf.WriteString(dp.path)
		buf.WriteByte(' ')
		buf.WriteString(dp.value)
		buf.WriteByte(' ')
		buf.WriteString(dp.timestamp)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// pickleMessage encodes chunk as a pickled list of (path, (timestamp, value)) tuples behind a
// 4 byte big-endian length header. Numeric values are sent as numbers and anything else is
// passed through as text for the receiver to convert.
func pickleMessage(chunk []datapoint) ([]byte, error) {
	list := make([]interface{}, 0, len(chunk))
	for _, dp := range chunk {
		var ts interface{} = dp.timestamp
		if i, err := strconv.ParseInt(dp.timestamp, 10, 64); err == nil {
			ts = i
		}
		var value interface{} = dp.value
		if f, err := strconv.ParseFloat(dp.value, 64); err == nil {
			value = f
		}
		list = append(list, pickle.Tuple{dp.path, pickle.Tuple{ts, value}})
	}

	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // length header, filled in below
	enc := pickle.NewEncoderWithConfig(&buf, &pickle.EncoderConfig{Protocol: pickleProtocol})
	if err := enc.Encode(list); err != nil {
		return nil, err
	}
	msg := buf.Bytes()
	binary.BigEndian.PutUint32(msg, uint32(len(msg)-4))
	return msg, nil
}
