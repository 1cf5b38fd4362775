package tlscontext

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	stderrors "errors"
	"fmt"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// StoreLoader decodes one key/trust store format.
type StoreLoader interface {
	// GetType returns the store type, e.g. "PKCS12"
	GetType() string
	// Providers lists the provider names this loader answers to
	Providers() []string
	// KeyPairs decodes client certificates with their private keys
	KeyPairs(data []byte, password string) ([]tls.Certificate, error)
	// Certificates decodes trust anchors
	Certificates(data []byte, password string) ([]*x509.Certificate, error)
}

var (
	// ErrNoPrivateKey is returned for a key store without a private key
	ErrNoPrivateKey = stderrors.New("store contains no private key")
	// ErrNoCertificates is returned for a store without certificates
	ErrNoCertificates = stderrors.New("store contains no certificates")
)

const certificateBlock = "CERTIFICATE"

// pkcs12Loader decodes PKCS#12 stores, both the legacy RC2/3DES layout and
// the PBES2/AES layout written by OpenSSL 3 and current keytool.
type pkcs12Loader struct{}

func (pkcs12Loader) GetType() string { return StoreTypePKCS12 }

func (pkcs12Loader) Providers() []string { return []string{"go-pkcs12", "SunJSSE", "SUN"} }

func (pkcs12Loader) KeyPairs(data []byte, password string) ([]tls.Certificate, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	if cert == nil {
		return nil, ErrNoCertificates
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	leaf, chain := orderChain(key, append([]*x509.Certificate{cert}, caCerts...))
	certPEM := encodeCert(leaf)
	for _, c := range chain {
		certPEM = append(certPEM, encodeCert(c)...)
	}
	pair, err := tls.X509KeyPair(certPEM, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	if err != nil {
		return nil, err
	}
	return []tls.Certificate{pair}, nil
}

// orderChain moves the certificate holding the key's public half to the
// front; the remaining certificates keep their store order.
func orderChain(key any, certs []*x509.Certificate) (*x509.Certificate, []*x509.Certificate) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return certs[0], certs[1:]
	}
	for i, c := range certs {
		pub, ok := c.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
		if ok && pub.Equal(signer.Public()) {
			rest := make([]*x509.Certificate, 0, len(certs)-1)
			rest = append(rest, certs[:i]...)
			return c, append(rest, certs[i+1:]...)
		}
	}
	return certs[0], certs[1:]
}

func encodeCert(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: certificateBlock, Bytes: c.Raw})
}

// Certificates reads Java trust stores (entries marked as trusted) and plain
// certificate-only stores such as `openssl pkcs12 -export -nokeys` writes.
func (pkcs12Loader) Certificates(data []byte, password string) ([]*x509.Certificate, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		if stderrors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, err
		}
		var plainErr error
		certs, plainErr = certificateBags(data, password)
		if plainErr != nil {
			return nil, err
		}
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}

// certificateBags collects the certificate bags of a store without trust
// attributes. ToPEM is the only decoder in the package that yields bags
// regardless of their attributes.
func certificateBags(data []byte, password string) ([]*x509.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, err
	}
	var out []*x509.Certificate
	for _, b := range blocks {
		if b.Type != certificateBlock {
			continue
		}
		cert, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}

// pemLoader reads unencrypted PEM bundles. The store password is not used.
type pemLoader struct{}

func (pemLoader) GetType() string { return StoreTypePEM }

func (pemLoader) Providers() []string { return []string{"stdlib"} }

func (pemLoader) KeyPairs(data []byte, _ string) ([]tls.Certificate, error) {
	pair, err := tls.X509KeyPair(data, data)
	if err != nil {
		return nil, err
	}
	return []tls.Certificate{pair}, nil
}

func (pemLoader) Certificates(data []byte, _ string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != certificateBlock {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, ErrNoCertificates
	}
	return out, nil
}
