// Package certs loads the TLS keypair the DoH listener presents to
// clients.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadKeyPair reads a PEM certificate chain and a PEM private key from
// disk and returns a tls.Certificate ready for use in a tls.Config.
//
// Exactly one private key is expected in keyPath; a file containing zero
// or more than one PEM-encoded key is rejected, since there would be no
// unambiguous way to pick which key to present.
func LoadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: read key: %w", err)
	}

	if err := requireSingleKey(keyPEM); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: parse keypair: %w", err)
	}
	return cert, nil
}

// requireSingleKey walks the PEM blocks in data and rejects the file
// unless exactly one of them is a private key.
func requireSingleKey(data []byte) error {
	count := 0
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if isPrivateKeyBlock(block.Type) {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("certs: no private key found")
	}
	if count > 1 {
		return fmt.Errorf("certs: more than one private key provided")
	}
	return nil
}

func isPrivateKeyBlock(blockType string) bool {
	switch blockType {
	case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
		return true
	default:
		return false
	}
}

// VerifyParses confirms certPath contains at least one valid X.509
// certificate, surfacing a clear error at startup rather than at the
// first TLS handshake.
func VerifyParses(certPath string) error {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("certs: read cert: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("certs: no PEM data found in %s", certPath)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("certs: parse certificate: %w", err)
	}
	return nil
}
