// Package pki issues the server certificate the HTTP surface uses when
// config.TLSConfiguration.Enabled is set, signed by a CA loaded from file
// (NewRootCAFromFile) or created self-signed (NewDefaultRootCA). It only needs
// the server-auth signing profile; swimkv agents don't authenticate to
// each other over mTLS, so the client/peer profiles the cfssl-based
// teacher tooling also carries are dropped.
package pki

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"
	"time"

	"github.com/cloudflare/cfssl/cli/genkey"
	"github.com/cloudflare/cfssl/config"
	"github.com/cloudflare/cfssl/csr"
	"github.com/cloudflare/cfssl/helpers"
	"github.com/cloudflare/cfssl/initca"
	clog "github.com/cloudflare/cfssl/log"
	"github.com/cloudflare/cfssl/signer"
	"github.com/cloudflare/cfssl/signer/local"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/criticalstack/swimkv/pkg/log"
)

const ServerSigningProfile = "server"

var SigningProfiles = &config.Signing{
	Default: &config.SigningProfile{
		Expiry: 5 * 365 * 24 * time.Hour,
	},
	Profiles: map[string]*config.SigningProfile{
		ServerSigningProfile: {
			Expiry: 5 * 365 * 24 * time.Hour,
			Usage: []string{
				"signing",
				"key encipherment",
				"server auth",
			},
		},
	},
}

type logger struct {
	l *zap.Logger
}

func (l *logger) Debug(msg string)   { l.l.Debug(msg) }
func (l *logger) Info(msg string)    { l.l.Info(msg) }
func (l *logger) Warning(msg string) { l.l.Warn(msg) }
func (l *logger) Err(msg string)     { l.l.Error(msg) }
func (l *logger) Crit(msg string)    { l.l.Error(msg) }
func (l *logger) Emerg(msg string)   { l.l.Fatal(msg) }

func init() {
	clog.SetLogger(&logger{log.NewLoggerWithLevel("cfssl", zapcore.ErrorLevel)})
}

// KeyPair is a certificate and its private key, in both parsed and PEM
// form.
type KeyPair struct {
	Cert    *x509.Certificate
	CertPEM []byte
	Key     crypto.Signer
	KeyPEM  []byte
}

func NewKeyPairFromPEM(certPEM, keyPEM []byte) (*KeyPair, error) {
	cert, err := helpers.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := helpers.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Cert:    cert,
		CertPEM: certPEM,
		Key:     key,
		KeyPEM:  keyPEM,
	}, nil
}

// RootCA issues server certificates for the HTTP surface.
type RootCA struct {
	CA *KeyPair
	g  *csr.Generator
	sp *config.Signing
}

func NewRootCA(cr *csr.CertificateRequest) (*RootCA, error) {
	certPEM, _, keyPEM, err := initca.New(cr)
	if err != nil {
		return nil, err
	}
	ca, err := NewKeyPairFromPEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &RootCA{
		CA: ca,
		g:  &csr.Generator{Validator: genkey.Validator},
		sp: SigningProfiles,
	}, nil
}

func NewRootCAFromFile(certpath, keypath string) (*RootCA, error) {
	certPEM, err := ioutil.ReadFile(certpath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := ioutil.ReadFile(keypath)
	if err != nil {
		return nil, err
	}
	ca, err := NewKeyPairFromPEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &RootCA{
		CA: ca,
		g:  &csr.Generator{Validator: genkey.Validator},
		sp: SigningProfiles,
	}, nil
}

// NewDefaultRootCA issues a CA suitable for bootstrapping a single
// swimkv cluster's HTTP TLS.
func NewDefaultRootCA() (*RootCA, error) {
	return NewRootCA(&csr.CertificateRequest{
		Names: []csr.Name{
			{
				C:  "US",
				ST: "Boston",
				L:  "MA",
				O:  "Critical Stack",
			},
		},
		KeyRequest: &csr.BasicKeyRequest{
			A: "rsa",
			S: 2048,
		},
		CN: "swimkv-ca",
	})
}

// GenerateServerCertificate issues a server-auth certificate for the given
// hosts, signed by the CA.
func (r *RootCA) GenerateServerCertificate(hosts []string) (*KeyPair, error) {
	csrBytes, keyPEM, err := r.g.ProcessRequest(&csr.CertificateRequest{
		Names: []csr.Name{
			{
				C:  "US",
				ST: "Boston",
				L:  "MA",
			},
		},
		KeyRequest: &csr.KeyRequest{
			A: "rsa",
			S: 2048,
		},
		Hosts: hosts,
		CN:    "swimkv server",
	})
	if err != nil {
		return nil, err
	}
	s, err := local.NewSigner(r.CA.Key, r.CA.Cert, signer.DefaultSigAlgo(r.CA.Key), r.sp)
	if err != nil {
		return nil, err
	}
	certPEM, err := s.Sign(signer.SignRequest{
		Request: string(csrBytes),
		Profile: ServerSigningProfile,
	})
	if err != nil {
		return nil, err
	}
	return NewKeyPairFromPEM(certPEM, keyPEM)
}

// GenerateCertHash returns the SHA-256 digest of a CA certificate's
// SubjectPublicKeyInfo, used to pin the CA when a peer first connects.
func GenerateCertHash(caCertPath string) ([]byte, error) {
	data, err := ioutil.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("cannot parse PEM formatted block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return h[:], nil
}
