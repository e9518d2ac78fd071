package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertManager loads extra root certificates from a directory, e.g. the CA
// of a local dev backend served over TLS.
type CertManager struct {
	certDir string
	now     func() time.Time
}

// NewCertManager creates a new CertManager for the given directory.
func NewCertManager(certDir string) *CertManager {
	return &CertManager{certDir: certDir, now: time.Now}
}

// LoadCertificates loads every .crt / .pem file under the directory.
func (cm *CertManager) LoadCertificates() ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	err := filepath.WalkDir(cm.certDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".crt") && !strings.HasSuffix(d.Name(), ".pem") {
			return nil
		}
		cert, err := loadCertificate(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, cert)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pool returns the system roots plus every certificate in the directory.
// Expired certificates are skipped and reported by name.
func (cm *CertManager) Pool() (*x509.CertPool, []string, error) {
	certs, err := cm.LoadCertificates()
	if err != nil {
		return nil, nil, err
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	var skipped []string
	for _, c := range certs {
		if cm.IsExpired(c) {
			skipped = append(skipped, c.Subject.CommonName)
			continue
		}
		pool.AddCert(c)
	}
	return pool, skipped, nil
}

// IsExpired checks if a certificate is expired.
func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to parse certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}
