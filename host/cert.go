/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package host

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	selfSignedCertKeyRSABits = 2048
	selfSignedCertFolder     = "./.cert/"
	selfSignedCertPrivateKey = selfSignedCertFolder + "key.pem"
	selfSignedCertFile       = selfSignedCertFolder + "cert.pem"
)

// loadCertificate loads a certificate given a private key and certificate PEM files.
// Only in case the associated domain is localhost and no files are specified
// a self signed certificate will be automatically generated.
func loadCertificate(keyFile, certFile, domain string) (tls.Certificate, error) {
	if len(certFile) == 0 || len(keyFile) == 0 {
		if domain != defaultDomain {
			return tls.Certificate{}, errors.Errorf("must specify a private key and a server certificate for the domain '%s'", domain)
		}
		if !selfSignedCertificateExists() {
			if err := generateSelfSignedCertificate(selfSignedCertPrivateKey, selfSignedCertFile, domain); err != nil {
				return tls.Certificate{}, errors.Wrap(err, "failed to generate self signed certificate")
			}
		}
		keyFile = selfSignedCertPrivateKey
		certFile = selfSignedCertFile
	}
	return tls.LoadX509KeyPair(certFile, keyFile)
}

func generateSelfSignedCertificate(keyFile, certFile, domain string) error {
	if err := os.MkdirAll(selfSignedCertFolder, os.ModePerm); err != nil {
		return err
	}
	notBefore := time.Now()
	notAfter := notBefore.Add(1825 * 24 * time.Hour)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return err
	}
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{domain},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{domain},
	}
	priv, err := rsa.GenerateKey(rand.Reader, selfSignedCertKeyRSABits)
	if err != nil {
		return err
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return err
	}
	certOut, err := os.Create(certFile)
	if err != nil {
		return err
	}
	defer func() { _ = certOut.Close() }()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return err
	}
	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = keyOut.Close() }()
	return pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
}

func selfSignedCertificateExists() bool {
	keySt, _ := os.Stat(selfSignedCertPrivateKey)
	certSt, _ := os.Stat(selfSignedCertFile)
	return keySt != nil && certSt != nil
}
