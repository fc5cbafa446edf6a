package port

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/ZerkerEOD/permfarm/pkg/debug"
)

// LoadClientTLSConfig builds the TLS settings used for wss:// servers. With
// an empty caFile the system roots are used; otherwise only the CA
// certificates in caFile (PEM) are trusted, which suits self-signed farms.
func LoadClientTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	debug.Info("Loading CA certificate from %s", caFile)
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", caFile)
	}
	cfg.RootCAs = certPool
	return cfg, nil
}
