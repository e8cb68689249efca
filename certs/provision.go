package certs

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrCertificateExpired  = errors.New("certificate expired")
	ErrCertificateMismatch = errors.New("certificate and private key do not match")
)

// CertificateExpiredError 证书不在有效期内
type CertificateExpiredError struct {
	Path      string
	NotBefore time.Time
	NotAfter  time.Time
	Now       time.Time
}

func (e *CertificateExpiredError) Error() string {
	return fmt.Sprintf("%v: %s valid %s..%s, now %s", ErrCertificateExpired, e.Path,
		e.NotBefore.Format(time.RFC3339), e.NotAfter.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

func (e *CertificateExpiredError) Unwrap() error { return ErrCertificateExpired }

// CertificateMismatchError 私钥与证书公钥不对应
type CertificateMismatchError struct {
	KeyPath  string
	CertPath string
}

func (e *CertificateMismatchError) Error() string {
	return fmt.Sprintf("%v: key %s, certificate %s", ErrCertificateMismatch, e.KeyPath, e.CertPath)
}

func (e *CertificateMismatchError) Unwrap() error { return ErrCertificateMismatch }

// Config 证书配置
type Config struct {
	Dir       string `mapstructure:"dir"`
	KeyPath   string `mapstructure:"key_path"`
	CertPath  string `mapstructure:"cert_path"`
	Subject   string `mapstructure:"subject"`
	ValidDays int    `mapstructure:"valid_days"`
}

// Provisioner 在服务端监听前准备好 TLS 材料。
// 同步执行，不重试；任何失败都应终止启动
type Provisioner struct {
	Provider Provider
	Config   Config
	Logger   *slog.Logger
	// Now 为空时使用 time.Now
	Now func() time.Time
}

func NewProvisioner(provider Provider, cfg Config, logger *slog.Logger) *Provisioner {
	return &Provisioner{Provider: provider, Config: cfg, Logger: logger}
}

// Provision 确保私钥和证书存在、有效且匹配，返回可用于 tls.Config 的证书
func (p *Provisioner) Provision() (tls.Certificate, error) {
	cfg := p.Config
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return tls.Certificate{}, fmt.Errorf("create certificate directory: %w", err)
		}
	}

	keyExists, err := exists(cfg.KeyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	certExists, err := exists(cfg.CertPath)
	if err != nil {
		return tls.Certificate{}, err
	}

	if !keyExists || !certExists {
		p.Logger.Info("Generating TLS material",
			"subject", cfg.Subject,
			"valid_days", cfg.ValidDays,
			"key_path", cfg.KeyPath,
			"cert_path", cfg.CertPath)

		keyPEM, certPEM, err := p.Provider.Generate(cfg.Subject, cfg.ValidDays)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("generate certificate: %w", err)
		}
		if err := writeFile(cfg.KeyPath, keyPEM, 0o600); err != nil {
			return tls.Certificate{}, err
		}
		if err := writeFile(cfg.CertPath, certPEM, 0o644); err != nil {
			return tls.Certificate{}, err
		}
	}

	cert, err := p.Provider.LoadCertificate(cfg.CertPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	if t := now(); !p.Provider.IsValid(cert, t) {
		return tls.Certificate{}, &CertificateExpiredError{
			Path:      cfg.CertPath,
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
			Now:       t,
		}
	}

	key, err := p.Provider.LoadPrivateKey(cfg.KeyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load private key: %w", err)
	}
	if !p.Provider.Matches(key, cert) {
		return tls.Certificate{}, &CertificateMismatchError{KeyPath: cfg.KeyPath, CertPath: cfg.CertPath}
	}

	p.Logger.Info("TLS material ready",
		"subject", cert.Subject.CommonName,
		"not_after", cert.NotAfter.Format(time.RFC3339))

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
