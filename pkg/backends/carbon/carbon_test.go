package carbon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	pickle "github.com/kisielk/og-rek"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/internal/fixtures"
)

func newTestClient(t *testing.T, servers []string, plaintext bool, maxMetrics int) *Client {
	c, err := NewClient(servers, "_", maxMetrics, false, "", plaintext, false, time.Second, time.Second, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	return c
}

func TestPlaintextSend(t *testing.T) {
	t.Parallel()
	server := fixtures.NewTCPCapture(t)
	c := newTestClient(t, []string{server.Addr()}, true, DefaultMaxMetrics)

	metrics := []*graphios.Metric{
		fixtures.MakeMetric(fixtures.Label("load"), fixtures.Value("1.5")),
		fixtures.MakeMetric(fixtures.Label("load5"), fixtures.Value("0.25"), fixtures.Timestamp("1700000060")),
	}
	n, err := c.SendMetrics(context.Background(), metrics)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	received := server.Received()
	require.Len(t, received, 1)
	assert.Equal(t, "nagios.web1.load 1.5 1700000000\nnagios.web1.load5 0.25 1700000060\n", string(received[0]))
}

func TestSendNothing(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, []string{fixtures.ClosedAddr(t)}, true, DefaultMaxMetrics)
	n, err := c.SendMetrics(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendCountsEveryServer(t *testing.T) {
	t.Parallel()
	s1 := fixtures.NewTCPCapture(t)
	s2 := fixtures.NewTCPCapture(t)
	c := newTestClient(t, []string{s1.Addr(), s2.Addr()}, true, DefaultMaxMetrics)

	n, err := c.SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric(), fixtures.MakeMetric()})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, s1.Received(), 1)
	assert.Len(t, s2.Received(), 1)
}

func TestUnreachableServerFailsWholeSend(t *testing.T) {
	t.Parallel()
	good := fixtures.NewTCPCapture(t)
	c := newTestClient(t, []string{good.Addr(), fixtures.ClosedAddr(t)}, true, DefaultMaxMetrics)

	n, err := c.SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric()})
	require.Error(t, err)
	assert.Zero(t, n)

	// The reachable server was still written to.
	received := good.Received()
	require.Len(t, received, 1)
	assert.Equal(t, "nagios.web1.load1 1.5 1700000000\n", string(received[0]))
}

type failingConn struct {
	net.Conn
	closed bool
}

func (c *failingConn) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func (c *failingConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *failingConn) Close() error {
	c.closed = true
	return nil
}

func TestWriteFailureAbortsSend(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, []string{"10.0.0.1:2003", "10.0.0.2:2003"}, true, DefaultMaxMetrics)
	conn := &failingConn{}
	var dialed []string
	c.dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialed = append(dialed, addr)
		return conn, nil
	}

	n, err := c.SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric()})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.True(t, conn.closed)
	assert.Equal(t, []string{"10.0.0.1:2003"}, dialed)
}

func TestPlaintextChunking(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, []string{"127.0.0.1"}, true, 2)
	metrics := []*graphios.Metric{
		fixtures.MakeMetric(fixtures.Label("a")),
		fixtures.MakeMetric(fixtures.Label("b")),
		fixtures.MakeMetric(fixtures.Label("c")),
	}
	messages, err := c.convertMessages(metrics)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "nagios.web1.a 1.5 1700000000\nnagios.web1.b 1.5 1700000000\n", string(messages[0]))
	assert.Equal(t, "nagios.web1.c 1.5 1700000000\n", string(messages[1]))
}

func TestPickleFraming(t *testing.T) {
	t.Parallel()
	server := fixtures.NewTCPCapture(t)
	c := newTestClient(t, []string{server.Addr()}, false, DefaultMaxMetrics)

	metrics := []*graphios.Metric{
		fixtures.MakeMetric(fixtures.Label("load"), fixtures.Value("1.5")),
		fixtures.MakeMetric(fixtures.Label("state"), fixtures.Value("U")),
	}
	n, err := c.SendMetrics(context.Background(), metrics)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	received := server.Received()
	require.Len(t, received, 1)
	data := received[0]
	require.Greater(t, len(data), 4)
	size := binary.BigEndian.Uint32(data[:4])
	require.EqualValues(t, len(data)-4, size)

	decoded, err := pickle.NewDecoder(bytes.NewReader(data[4:])).Decode()
	require.NoError(t, err)
	list, ok := decoded.([]interface{})
	require.True(t, ok, "%T", decoded)
	require.Len(t, list, 2)

	path, ts, value := unpackPoint(t, list[0])
	assert.Equal(t, "nagios.web1.load", path)
	assert.EqualValues(t, 1700000000, ts)
	assert.Equal(t, 1.5, value)

	path, ts, value = unpackPoint(t, list[1])
	assert.Equal(t, "nagios.web1.state", path)
	assert.EqualValues(t, 1700000000, ts)
	assert.Equal(t, "U", value)
}

func unpackPoint(t *testing.T, item interface{}) (string, interface{}, interface{}) {
	outer := asSlice(t, item)
	require.Len(t, outer, 2)
	path, ok := outer[0].(string)
	require.True(t, ok, "%T", outer[0])
	inner := asSlice(t, outer[1])
	require.Len(t, inner, 2)
	return path, inner[0], inner[1]
}

func asSlice(t *testing.T, v interface{}) []interface{} {
	switch s := v.(type) {
	case pickle.Tuple:
		return s
	case []interface{}:
		return s
	}
	require.Failf(t, "unexpected pickle type", "%T", v)
	return nil
}

func TestPickleChunking(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, []string{"127.0.0.1"}, false, 1)
	messages, err := c.convertMessages([]*graphios.Metric{fixtures.MakeMetric(), fixtures.MakeMetric()})
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestTestModeEchoes(t *testing.T) {
	t.Parallel()
	server := fixtures.NewTCPCapture(t)
	c, err := NewClient([]string{server.Addr()}, "_", 10, true, "", true, true, time.Second, time.Second, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	var echo bytes.Buffer
	c.echo = &echo

	_, err = c.SendMetrics(context.Background(), []*graphios.Metric{fixtures.MakeMetric(fixtures.ServiceDesc("Current Load"))})
	require.NoError(t, err)
	assert.Equal(t, "nagios.web1.Current_Load.load1 1.5 1700000000\n", echo.String())
}

func TestBasePathDefault(t *testing.T) {
	t.Parallel()
	c, err := NewClient([]string{"127.0.0.1"}, "_", 10, false, "metrics", true, false, time.Second, time.Second, fixtures.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "metrics.nagios.web1.load1", c.buildPath(fixtures.MakeMetric()))
	assert.Equal(t, "own.nagios.web1.load1", c.buildPath(fixtures.MakeMetric(fixtures.BasePath("own"))))
}

func TestServerAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{"127.0.0.1", "127.0.0.1:2004", false},
		{"carbon.local:2104", "carbon.local:2104", false},
		{"[::1]:2003", "[::1]:2003", false},
		{"host:port", "", true},
		{"host:99999", "", true},
	}
	for _, tt := range tests {
		got, err := serverAddress(tt.server, DefaultPicklePort)
		if tt.wantErr {
			assert.Error(t, err, tt.server)
			continue
		}
		require.NoError(t, err, tt.server)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewClientFromViper(t *testing.T) {
	t.Parallel()
	v := viper.New()
	b, err := NewClientFromViper(v, fixtures.NewTestLogger(t), nil)
	require.NoError(t, err)
	c := b.(*Client)
	assert.Equal(t, []string{"127.0.0.1:2004"}, c.servers)
	assert.Equal(t, DefaultMaxMetrics, c.maxMetrics)
	assert.Equal(t, BackendName, c.Name())

	v = viper.New()
	v.Set(ParamServers, "a:1, b")
	v.Set(ParamPlaintext, true)
	b, err = NewClientFromViper(v, fixtures.NewTestLogger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2003"}, b.(*Client).servers)

	v = viper.New()
	v.Set(ParamMaxMetrics, "lots")
	_, err = NewClientFromViper(v, fixtures.NewTestLogger(t), nil)
	require.Error(t, err)

	v = viper.New()
	v.Set(ParamMaxMetrics, 0)
	_, err = NewClientFromViper(v, fixtures.NewTestLogger(t), nil)
	require.Error(t, err)
}
