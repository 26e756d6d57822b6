package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("tlsconfig: no certificates found in %s", path)
	}
	return pool, nil
}

// ServerOptions configures BuildServerConfig. CertFile/KeyFile are the
// server's own certificate; ClientCAFile, when set, enables mTLS with
// tls.RequireAndVerifyClientCert.
type ServerOptions struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
	Profile      VersionProfile
}

// BuildServerConfig assembles a *tls.Config for the listening socket with
// ALPN advertising both "h2" and "http/1.1", hardened to ProfileSecure by
// default. Server does not read the negotiated protocol: every Connection
// tries the HTTP/2 parser first and HTTP/1.1 second either way.
func BuildServerConfig(opts ServerOptions) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile.Min == 0 {
		profile = ProfileSecure
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}
	ApplyVersionProfile(cfg, profile)
	ApplyCipherSuites(cfg, cfg.MinVersion)

	if opts.ClientCAFile != "" {
		pool, err := loadCertPool(opts.ClientCAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}
