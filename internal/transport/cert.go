package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	// PeerALPN is the ALPN offered for direct peer connections.
	PeerALPN = "gann-peer/1"
	// RelayALPN is the default ALPN for relay transports when the relay
	// coordinates do not specify one.
	RelayALPN = "gann-relay/1"

	// PeerServerName is the SNI used for direct peer handshakes. Identity
	// comes from fingerprint pinning, not from the name.
	PeerServerName = "gann-peer"
	// RelayServerName is the default SNI for relay handshakes.
	RelayServerName = "gann-relay"

	certLifetime = 14 * 24 * time.Hour
)

// selfSignedCert mints an ephemeral ECDSA certificate for one peer server
// lifetime and returns it with its DER bytes and SHA-256 fingerprint (hex).
func selfSignedCert(serverName string) (tls.Certificate, []byte, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, "", fmt.Errorf("generate cert key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, nil, "", fmt.Errorf("generate cert serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: serverName},
		DNSNames:     []string{serverName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, "", fmt.Errorf("create certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return cert, der, FingerprintSHA256(der), nil
}

// FingerprintSHA256 returns the lower-case hex SHA-256 digest of a DER cert.
func FingerprintSHA256(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// pinnedClientTLS builds a client TLS config that authenticates the server
// by certificate fingerprint instead of chain verification.
func pinnedClientTLS(serverName, alpn, fingerprint string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		NextProtos:         []string{alpn},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("server presented no certificate")
			}
			got := FingerprintSHA256(rawCerts[0])
			if got != fingerprint {
				return fmt.Errorf("certificate fingerprint mismatch: got %s want %s", got, fingerprint)
			}
			return nil
		},
	}
}
