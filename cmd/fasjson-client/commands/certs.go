package commands

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/fedora-infra/fasjson-client/internal/constants"
)

// PEM block types.
const (
	pemRSAPrivateKey = "RSA PRIVATE KEY"
	pemPrivateKey    = "PRIVATE KEY"
	pemCSR           = "CERTIFICATE REQUEST"
	pemCertificate   = "CERTIFICATE"
)

var oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// loadPrivateKey reads a PEM encoded RSA key, PKCS #1 or PKCS #8.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not PEM encoded", ErrBadPrivateKey, path)
	}

	switch block.Type {
	case pemRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
		}

		return key, nil
	case pemPrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
		}

		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrBadPrivateKey, parsed)
		}

		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrBadPrivateKey, block.Type)
	}
}

// makePrivateKey generates an RSA key and stores it, readable by the
// owner only, at path.
func makePrivateKey(path string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, constants.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("can't make a private key: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{
		Type:  pemRSAPrivateKey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := os.WriteFile(path, data, constants.PrivateKeyPerm); err != nil {
		return nil, fmt.Errorf("can't make a private key: %w", err)
	}

	return key, nil
}

// makeCSR builds a signing request for username, marked as not being a CA.
func makeCSR(username string, key *rsa.PrivateKey) (string, error) {
	constraints, err := asn1.Marshal(basicConstraints{IsCA: false, MaxPathLen: -1})
	if err != nil {
		return "", fmt.Errorf("failed to encode basic constraints: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: username},
		SignatureAlgorithm: x509.SHA256WithRSA,
		ExtraExtensions: []pkix.Extension{{
			Id:       oidBasicConstraints,
			Critical: true,
			Value:    constraints,
		}},
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return "", fmt.Errorf("failed to create the CSR: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: pemCSR, Bytes: der})), nil
}

// parseCertificate decodes a certificate sent by FASJSON as base64 DER,
// with or without line breaks.
func parseCertificate(encoded string) (*x509.Certificate, error) {
	cleaned := strings.Join(strings.Fields(encoded), "")

	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCertificate, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCertificate, err)
	}

	return cert, nil
}

// latestCertificate returns the certificate valid the longest. Serial
// numbers are not used since they may be random.
func latestCertificate(certs []*x509.Certificate) *x509.Certificate {
	var latest *x509.Certificate

	for _, cert := range certs {
		if latest == nil || cert.NotAfter.After(latest.NotAfter) {
			latest = cert
		}
	}

	return latest
}

// writeCertificate stores cert in PEM format, 64 characters per line.
func writeCertificate(cert *x509.Certificate, path string) error {
	data := pem.EncodeToMemory(&pem.Block{Type: pemCertificate, Bytes: cert.Raw})

	if err := os.WriteFile(path, data, constants.CertificatePerm); err != nil {
		return fmt.Errorf("failed to write the certificate: %w", err)
	}

	return nil
}
