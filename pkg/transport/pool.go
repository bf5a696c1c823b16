package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DefaultName is the transport used by a backend that does not name one.
const DefaultName = "default"

const (
	paramClientTimeout         = "client-timeout"
	paramDialerKeepAlive       = "dialer-keep-alive"
	paramDialerTimeout         = "dialer-timeout"
	paramIdleConnectionTimeout = "idle-connection-timeout"
	paramMaxIdleConnections    = "max-idle-connections"
	paramTLSHandshakeTimeout   = "tls-handshake-timeout"
	paramInsecureSkipVerify    = "insecure-skip-verify"

	defaultClientTimeout         = 10 * time.Second
	defaultDialerKeepAlive       = 30 * time.Second
	defaultDialerTimeout         = 5 * time.Second
	defaultIdleConnectionTimeout = 1 * time.Minute
	defaultMaxIdleConnections    = 50
	defaultTLSHandshakeTimeout   = 3 * time.Second
)

// TransportPool creates http.Clients as required, using the transport.<name> section of the provided
// viper.Viper for configuration.
type TransportPool struct {
	config *viper.Viper
	logger logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewTransportPool(logger logrus.FieldLogger, config *viper.Viper) *TransportPool {
	return &TransportPool{
		logger:  logger,
		clients: map[string]*http.Client{},
		config:  config,
	}
}

// Get returns the client for the named transport, creating it on first use.
func (tp *TransportPool) Get(name string) (*http.Client, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if hc, ok := tp.clients[name]; ok {
		return hc, nil
	}

	hc, err := tp.newClient(name)
	if err != nil {
		return nil, err
	}
	tp.clients[name] = hc
	return hc, nil
}

func (tp *TransportPool) newClient(name string) (*http.Client, error) {
	sub := tp.config.Sub("transport." + name)
	if sub == nil {
		if name != DefaultName {
			tp.logger.WithField("name", name).Warn("request for non-configured transport, using transport.default")
		}
		sub = tp.config.Sub("transport." + DefaultName)
	}
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault(paramClientTimeout, defaultClientTimeout)
	sub.SetDefault(paramDialerKeepAlive, defaultDialerKeepAlive)
	sub.SetDefault(paramDialerTimeout, defaultDialerTimeout)
	sub.SetDefault(paramIdleConnectionTimeout, defaultIdleConnectionTimeout)
	sub.SetDefault(paramMaxIdleConnections, defaultMaxIdleConnections)
	sub.SetDefault(paramTLSHandshakeTimeout, defaultTLSHandshakeTimeout)
	sub.SetDefault(paramInsecureSkipVerify, false)

	clientTimeout := sub.GetDuration(paramClientTimeout)
	dialerKeepAlive := sub.GetDuration(paramDialerKeepAlive)
	dialerTimeout := sub.GetDuration(paramDialerTimeout)
	idleConnectionTimeout := sub.GetDuration(paramIdleConnectionTimeout)
	maxIdleConnections := sub.GetInt(paramMaxIdleConnections)
	tlsHandshakeTimeout := sub.GetDuration(paramTLSHandshakeTimeout)
	insecureSkipVerify := sub.GetBool(paramInsecureSkipVerify)

	if clientTimeout < 0 {
		return nil, errors.New(paramClientTimeout + " must not be negative") // 0 = no timeout
	}
	if dialerKeepAlive < -1 {
		return nil, errors.New(paramDialerKeepAlive + " must be -1, 0, or positive")
	}
	if dialerTimeout < 0 {
		return nil, errors.New(paramDialerTimeout + " must not be negative")
	}
	if idleConnectionTimeout < 0 {
		return nil, errors.New(paramIdleConnectionTimeout + " must not be negative")
	}
	if maxIdleConnections < 0 {
		return nil, errors.New(paramMaxIdleConnections + " must not be negative")
	}
	if tlsHandshakeTimeout < 0 {
		return nil, errors.New(paramTLSHandshakeTimeout + " must not be negative")
	}

	dialer := &net.Dialer{
		Timeout:   dialerTimeout,
		KeepAlive: dialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			// Can't use SSLv3 because of POODLE and BEAST
			// Can't use TLSv1.0 because of POODLE and BEAST using CBC cipher
			// Can't use TLSv1.1 because of RC4 cipher usage
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify,
		},
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
		MaxIdleConns:    maxIdleConnections,
		IdleConnTimeout: idleConnectionTimeout,
	}

	tp.logger.WithFields(logrus.Fields{
		"name":                     name,
		paramClientTimeout:         clientTimeout,
		paramDialerKeepAlive:       dialerKeepAlive,
		paramDialerTimeout:         dialerTimeout,
		paramIdleConnectionTimeout: idleConnectionTimeout,
		paramMaxIdleConnections:    maxIdleConnections,
		paramTLSHandshakeTimeout:   tlsHandshakeTimeout,
		paramInsecureSkipVerify:    insecureSkipVerify,
	}).Info("created client")

	return &http.Client{
		Transport: transport,
		Timeout:   clientTimeout,
	}, nil
}
