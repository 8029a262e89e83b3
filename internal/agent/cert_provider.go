package agent

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

type SelfSignedCertificateProvider struct {
	ip net.IP
}

// NewSelfSignedCertificateProvider issues certificates for the address the
// REST surface listens on. A nil or unspecified address yields 0.0.0.0.
func NewSelfSignedCertificateProvider(listenAddr *net.TCPAddr) *SelfSignedCertificateProvider {
	ip := net.IPv4(0, 0, 0, 0)
	if listenAddr != nil && listenAddr.IP != nil {
		ip = listenAddr.IP
	}

	return &SelfSignedCertificateProvider{ip: ip}
}

func (s *SelfSignedCertificateProvider) GetCertificate(expire time.Time) (*x509.Certificate, *rsa.PrivateKey, error) {
	csr := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().Unix()),
		Issuer: pkix.Name{
			Organization: []string{"doctrack"},
		},
		Subject: pkix.Name{
			Organization:       []string{"doctrack"},
			OrganizationalUnit: []string{"doctrack agent"},
			CommonName:         s.ip.String(),
		},
		IPAddresses:           s.addresses(),
		NotBefore:             time.Now(),
		NotAfter:              expire,
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate rsa private key")
	}

	certData, err := x509.CreateCertificate(rand.Reader, csr, csr, privateKey.Public(), privateKey)
	if err != nil {
		return nil, nil, err
	}

	cert, err := x509.ParseCertificate(certData)
	if err != nil {
		return nil, nil, err
	}

	return cert, privateKey, nil
}

func (s *SelfSignedCertificateProvider) addresses() []net.IP {
	if s.ip.IsLoopback() || s.ip.IsUnspecified() {
		return []net.IP{s.ip, net.IPv6loopback}
	}
	return []net.IP{s.ip}
}

// TLSConfig returns a server configuration holding a fresh certificate valid until expire.
func (s *SelfSignedCertificateProvider) TLSConfig(expire time.Time) (*tls.Config, error) {
	cert, key, err := s.GetCertificate(expire)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}},
	}, nil
}
