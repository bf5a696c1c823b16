package statsd

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// TLSOptions describes how statsd connections over tcp are encrypted.
type TLSOptions struct {
	Enabled    bool
	CAPath     string // PEM bundle of trusted roots, system roots when empty
	CertPath   string // client certificate, requires KeyPath
	KeyPath    string
	ServerName string // overrides the host of each server for certificate verification
}

func tlsOptionsFromViper(v *viper.Viper) TLSOptions {
	return TLSOptions{
		Enabled:    v.GetBool(ParamTLS),
		CAPath:     v.GetString(ParamTLSCAPath),
		CertPath:   v.GetString(ParamTLSCertPath),
		KeyPath:    v.GetString(ParamTLSKeyPath),
		ServerName: v.GetString(ParamTLSServerName),
	}
}

// Config validates the options against protocol and loads the files they point at.
// A nil config means plain sockets.
func (o TLSOptions) Config(protocol string) (*tls.Config, error) {
	if !o.Enabled {
		if o.CAPath != "" || o.CertPath != "" || o.KeyPath != "" || o.ServerName != "" {
			return nil, fmt.Errorf("[%s] %s must be set to use tls options", BackendName, ParamTLS)
		}
		return nil, nil
	}

	var errs error
	if protocol != "tcp" {
		errs = multierr.Append(errs, fmt.Errorf("[%s] %s requires %s=tcp", BackendName, ParamTLS, ParamProtocol))
	}
	if (o.CertPath == "") != (o.KeyPath == "") {
		errs = multierr.Append(errs, fmt.Errorf("[%s] %s and %s must be set together", BackendName, ParamTLSCertPath, ParamTLSKeyPath))
	}
	if errs != nil {
		return nil, errs
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: o.ServerName,
	}
	if o.CAPath != "" {
		pool, err := loadCertPool(o.CAPath)
		if err != nil {
			return nil, fmt.Errorf("[%s] %s: %v", BackendName, ParamTLSCAPath, err)
		}
		cfg.RootCAs = pool
	}
	if o.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(o.CertPath, o.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("[%s] loading client certificate: %v", BackendName, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates found")
	}
	return pool, nil
}
