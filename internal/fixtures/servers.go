package fixtures

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TCPCapture is a TCP server that records everything written to it, one entry per connection.
type TCPCapture struct {
	l  net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns [][]byte
}

// NewTCPCapture starts a TCPCapture on a random local port. It is closed when the test ends.
func NewTCPCapture(tb testing.TB) *TCPCapture {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	c := &TCPCapture{l: l}
	c.wg.Add(1)
	go c.accept()
	tb.Cleanup(c.Close)
	return c
}

func (c *TCPCapture) accept() {
	defer c.wg.Done()
	for {
		conn, err := c.l.Accept()
		if err != nil {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer conn.Close()
			data, _ := io.ReadAll(conn)
			c.mu.Lock()
			c.conns = append(c.conns, data)
			c.mu.Unlock()
		}()
	}
}

// Addr returns host:port of the listener.
func (c *TCPCapture) Addr() string {
	return c.l.Addr().String()
}

// Close stops accepting and waits for open connections to be drained.
func (c *TCPCapture) Close() {
	_ = c.l.Close()
	c.wg.Wait()
}

// Received closes the server and returns the data of every connection that was accepted.
func (c *TCPCapture) Received() [][]byte {
	c.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns
}

// UDPCapture is a UDP server that records every datagram it receives.
type UDPCapture struct {
	conn net.PacketConn
	done chan struct{}

	mu      sync.Mutex
	packets [][]byte
	cond    *sync.Cond
}

// NewUDPCapture starts a UDPCapture on a random local port. It is closed when the test ends.
func NewUDPCapture(tb testing.TB) *UDPCapture {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(tb, err)
	c := &UDPCapture{
		conn: conn,
		done: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.read()
	tb.Cleanup(func() {
		_ = c.conn.Close()
		<-c.done
	})
	return c
}

func (c *UDPCapture) read() {
	defer close(c.done)
	buf := make([]byte, 65536)
	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.packets = append(c.packets, bytes.Clone(buf[:n]))
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Addr returns host:port of the socket.
func (c *UDPCapture) Addr() string {
	return c.conn.LocalAddr().String()
}

// WaitFor blocks until at least n datagrams were received and returns them joined.
func (c *UDPCapture) WaitFor(n int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.packets) < n {
		c.cond.Wait()
	}
	return string(bytes.Join(c.packets, nil))
}

// ClosedAddr returns the address of a TCP port that refuses connections.
func ClosedAddr(tb testing.TB) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	addr := l.Addr().String()
	require.NoError(tb, l.Close())
	return addr
}

// HTTPCapture records the requests received by an httptest.Server.
type HTTPCapture struct {
	*httptest.Server

	mu       sync.Mutex
	requests []CapturedRequest
	status   int
}

// CapturedRequest is a request seen by HTTPCapture.
type CapturedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewHTTPCapture starts a server answering every request with status. It is closed when the test ends.
func NewHTTPCapture(tb testing.TB, status int) *HTTPCapture {
	c := &HTTPCapture{status: status}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, CapturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		status := c.status
		c.mu.Unlock()
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"errors":{"request":["rejected"]}}`))
		}
	}))
	tb.Cleanup(c.Server.Close)
	return c
}

// SetStatus changes the status returned for subsequent requests.
func (c *HTTPCapture) SetStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Requests returns the requests received so far.
func (c *HTTPCapture) Requests() []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedRequest(nil), c.requests...)
}
