package proxy

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pkcs12"

	"github.com/any-hub/reverse-proxy/internal/config"
)

// tlsConfig 根据已读取的证书材料构造服务端 TLS 配置。
// 支持 PEM cert+key 或 PKCS#12 pfx（可带 passphrase）；ca 用于校验可选的客户端证书。
func tlsConfig(ssl *config.SSLConfig) (*tls.Config, error) {
	if ssl.Empty() {
		return nil, errors.New("ssl: missing certificate material")
	}

	var (
		cert tls.Certificate
		err  error
	)
	if len(ssl.PFX) > 0 {
		cert, err = pfxCertificate(ssl.PFX, ssl.Passphrase)
	} else {
		cert, err = tls.X509KeyPair(ssl.Cert, ssl.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("ssl: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}
	if len(ssl.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ssl.CA) {
			return nil, errors.New("ssl: no valid certificate found in ca")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}

// pfxCertificate 把 PKCS#12 内容转换为 PEM 后交给 tls.X509KeyPair，证书链中的全部证书都会保留。
func pfxCertificate(data []byte, passphrase string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}
	var certPEM, keyPEM bytes.Buffer
	for _, block := range blocks {
		if block.Type == "CERTIFICATE" {
			_ = pem.Encode(&certPEM, block)
		} else {
			_ = pem.Encode(&keyPEM, block)
		}
	}
	return tls.X509KeyPair(certPEM.Bytes(), keyPEM.Bytes())
}
