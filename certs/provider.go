// Package certs 负责服务端 TLS 证书的生成、加载与校验
package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePrivateKey  = "PRIVATE KEY"
)

// Provider 抽象证书材料的生成与校验
type Provider interface {
	// Generate 生成新的私钥和自签名证书，均为 PEM 编码
	Generate(subject string, validDays int) (keyPEM, certPEM []byte, err error)
	LoadCertificate(path string) (*x509.Certificate, error)
	LoadPrivateKey(path string) (crypto.Signer, error)
	// IsValid 判断证书在 now 时刻是否处于有效期内
	IsValid(cert *x509.Certificate, now time.Time) bool
	// Matches 判断私钥是否与证书公钥对应
	Matches(key crypto.Signer, cert *x509.Certificate) bool
}

// X509Provider 使用 ECDSA P-256 生成自签名证书
type X509Provider struct {
	// Now 用于确定证书起始时间，为空时使用 time.Now
	Now func() time.Time
}

var _ Provider = (*X509Provider)(nil)

func (p *X509Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *X509Provider) Generate(subject string, validDays int) ([]byte, []byte, error) {
	if validDays <= 0 {
		return nil, nil, fmt.Errorf("invalid certificate validity %d days", validDays)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := p.now().Add(-time.Minute)
	name := pkix.Name{CommonName: subject}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(time.Duration(validDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if ip := net.ParseIP(subject); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{subject}
		if subject == "localhost" {
			tmpl.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: keyDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})
	return keyPEM, certPEM, nil
}

func (p *X509Provider) LoadCertificate(path string) (*x509.Certificate, error) {
	block, err := readPEM(path, pemTypeCertificate)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return cert, nil
}

func (p *X509Provider) LoadPrivateKey(path string) (crypto.Signer, error) {
	block, err := readPEM(path, pemTypePrivateKey, "EC PRIVATE KEY", "RSA PRIVATE KEY")
	if err != nil {
		return nil, err
	}

	var key any
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key %s: unsupported type %T", path, key)
	}
	return signer, nil
}

func (p *X509Provider) IsValid(cert *x509.Certificate, now time.Time) bool {
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}

func (p *X509Provider) Matches(key crypto.Signer, cert *x509.Certificate) bool {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return pub.Equal(cert.PublicKey)
}

func readPEM(path string, types ...string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		for _, t := range types {
			if block.Type == t {
				return block, nil
			}
		}
	}
	return nil, errors.New("no " + types[0] + " PEM block in " + path)
}
