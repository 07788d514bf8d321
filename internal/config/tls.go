package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// CreatePostgresTLSConfig builds a TLS config trusting DB_CA_CERT.
func (c *Config) CreatePostgresTLSConfig() (*tls.Config, error) {
	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM([]byte(c.DBCACert)); !ok {
		return nil, fmt.Errorf("failed to parse Postgres CA certificate")
	}
	return &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: c.DBHost,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// CreateKafkaTLSConfig returns nil when no CA certificate is configured, so
// callers can hand the result straight to a kafka.Dialer or kafka.Transport.
func (c *Config) CreateKafkaTLSConfig() (*tls.Config, error) {
	if c.KafkaCACert == "" {
		return nil, nil
	}

	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM([]byte(c.KafkaCACert)); !ok {
		return nil, fmt.Errorf("failed to parse Kafka CA certificate")
	}

	// Extract host without port for TLS ServerName
	var serverName string
	if len(c.KafkaBrokers) > 0 {
		host, _, err := net.SplitHostPort(c.KafkaBrokers[0])
		if err != nil {
			// no port, use the entire string as host
			serverName = c.KafkaBrokers[0]
		} else {
			serverName = host
		}
	}

	tlsConfig := &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: serverName, // must match SAN in certificate
		MinVersion: tls.VersionTLS12,
	}

	if c.KafkaCert != "" && c.KafkaKey != "" {
		cert, err := tls.X509KeyPair([]byte(c.KafkaCert), []byte(c.KafkaKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load Kafka client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
