// Package config implements the configuration surface the CLI
// collaborator loads and validates before starting the Runtime Actor,
// the Document Store, and the HTTP surface. It is trimmed from the
// teacher's etcd-cluster configuration down to what a gossiping
// key/value agent actually needs.
package config

import (
	"crypto/tls"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"

	"github.com/criticalstack/swimkv/pkg/discovery"
	"github.com/criticalstack/swimkv/pkg/netutil"
	"github.com/criticalstack/swimkv/pkg/pki"
	"github.com/criticalstack/swimkv/pkg/snapshot"
)

const (
	DefaultBindAddress = "127.0.0.1:9000"
	DefaultDataDir     = "./data"
	DefaultRESTPort    = 9090
)

// DiscoveryType selects how a bootstrap peer is found when AnnounceTo is
// empty.
type DiscoveryType string

const (
	NoDiscovery            DiscoveryType = ""
	AmazonAutoscalingGroup DiscoveryType = "aws/autoscaling-group"
	AmazonTags             DiscoveryType = "aws/tags"
	DigitalOceanTags       DiscoveryType = "digitalocean/tags"
)

// DiscoveryConfiguration configures the supplemental cloud-tag peer
// discovery feature (pkg/discovery).
type DiscoveryConfiguration struct {
	Type      DiscoveryType     `mapstructure:"type"`
	ExtraArgs map[string]string `mapstructure:"extra-args"`
}

// Setup builds the discovery.PeerGetter this configuration describes. An
// empty Type returns a NoopGetter, so callers can always invoke Setup
// unconditionally.
func (d *DiscoveryConfiguration) Setup() (discovery.PeerGetter, error) {
	kvs := make([]discovery.KeyValue, 0, len(d.ExtraArgs))
	for k, v := range d.ExtraArgs {
		kvs = append(kvs, discovery.KeyValue{Key: k, Value: v})
	}
	switch d.Type {
	case AmazonAutoscalingGroup:
		return discovery.NewAmazonAutoScalingPeerGetter()
	case AmazonTags:
		return discovery.NewAmazonInstanceTagPeerGetter(kvs)
	case DigitalOceanTags:
		if len(kvs) == 0 {
			return nil, errors.New("discovery type digitalocean/tags requires at least 1 extra-args entry")
		}
		return discovery.NewDigitalOceanPeerGetter(&discovery.DigitalOceanConfig{
			TagValue: kvs[0].Key,
		})
	}
	return &discovery.NoopGetter{}, nil
}

// SnapshotConfiguration configures the supplemental periodic document
// snapshot backup feature (pkg/snapshot).
type SnapshotConfiguration struct {
	// Interval, when non-zero, enables a background goroutine that
	// uploads/writes a document snapshot on a timer (gzip-compressed
	// when Compression is set).
	Interval string `mapstructure:"interval"`
	// File is a URL: file:///path, s3://bucket/key, or
	// https://<region>.digitaloceanspaces.com/bucket/key.
	File        string `mapstructure:"file"`
	Compression bool   `mapstructure:"compression"`
	// SpacesAccessKey/SpacesSecretKey are only consulted when File names
	// a digitaloceanspaces.com destination.
	SpacesAccessKey string `mapstructure:"spaces-access-key"`
	SpacesSecretKey string `mapstructure:"spaces-secret-key"`
	// EncryptionKey, when set, is a 64-character hex string (32 raw
	// bytes) used to AES-256-CTR encrypt every snapshot this backup
	// writes, authenticated with HMAC-512/256. Leave empty to write
	// snapshots unencrypted.
	EncryptionKey string `mapstructure:"encryption-key"`
}

// Setup builds the periodic snapshot.Backup this configuration describes.
// A zero-value File disables the feature (nil, nil is returned).
func (s *SnapshotConfiguration) Setup(store snapshot.DocumentStore) (*snapshot.Backup, error) {
	if s.File == "" {
		return nil, nil
	}
	var interval time.Duration
	if s.Interval != "" {
		var err error
		interval, err = time.ParseDuration(s.Interval)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid snapshot.interval %#v", s.Interval)
		}
	}
	u, err := snapshot.ParseSnapshotBackupURL(s.File)
	if err != nil {
		return nil, err
	}
	var spaces *snapshot.SpacesCredentials
	if s.SpacesAccessKey != "" && s.SpacesSecretKey != "" {
		spaces = &snapshot.SpacesCredentials{AccessKey: s.SpacesAccessKey, SecretKey: s.SpacesSecretKey}
	}
	var key *[32]byte
	if s.EncryptionKey != "" {
		raw, err := hex.DecodeString(s.EncryptionKey)
		if err != nil {
			return nil, errors.Wrap(err, "invalid snapshot.encryption-key (want 64 hex characters)")
		}
		if len(raw) != 32 {
			return nil, errors.Errorf("invalid snapshot.encryption-key: want 32 bytes, got %d", len(raw))
		}
		var k [32]byte
		copy(k[:], raw)
		key = &k
	}
	return snapshot.NewBackup(store, u, interval, s.Compression, spaces, key)
}

// TLSConfiguration optionally enables TLS on the HTTP surface using a
// cfssl-issued certificate (pkg/pki).
type TLSConfiguration struct {
	Enabled bool   `mapstructure:"enabled"`
	CACert  string `mapstructure:"ca-cert"`
	CAKey   string `mapstructure:"ca-key"`
}

// Setup loads the CA named by CACert/CAKey and issues a server certificate
// for host, returning a *tls.Config ready to hand to http.Server. Returns
// (nil, nil) when TLS is disabled.
func (t *TLSConfiguration) Setup(host string) (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	ca, err := pki.NewRootCAFromFile(t.CACert, t.CAKey)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load TLS CA")
	}
	kp, err := ca.GenerateServerCertificate([]string{host})
	if err != nil {
		return nil, errors.Wrap(err, "cannot issue server certificate")
	}
	cert, err := tls.X509KeyPair(kp.CertPEM, kp.KeyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// Configuration is the full set of externally supplied settings.
// Command-line argument parsing and environment loading are the CLI
// collaborator's concern (cmd/swimkv); this type is what that
// collaborator produces and validates.
type Configuration struct {
	BindAddress string `mapstructure:"bind-address"`
	Identity    string `mapstructure:"identity"`
	AnnounceTo  string `mapstructure:"announce-to"`
	DataDir     string `mapstructure:"data-dir"`
	// Broadcast, when true, sends one demo SyncOperation broadcast of
	// the document snapshot right after the Runtime Actor starts, for
	// smoke-testing a lone node's gossip path. Defaults to false.
	Broadcast bool `mapstructure:"broadcast"`
	RESTPort  int  `mapstructure:"rest-port"`

	Discovery DiscoveryConfiguration `mapstructure:"discovery"`
	Snapshot  SnapshotConfiguration  `mapstructure:"snapshot"`
	TLS       TLSConfiguration       `mapstructure:"tls"`
}

// Default returns a Configuration with every field at spec.md §6's
// documented defaults.
func Default() *Configuration {
	return &Configuration{
		BindAddress: DefaultBindAddress,
		DataDir:     DefaultDataDir,
		RESTPort:    DefaultRESTPort,
	}
}

// Validate fills in derived defaults (Identity from BindAddress, an
// unspecified bind host resolved to a routable IPv4 address) and
// rejects configurations the runtime cannot start from.
func (c *Configuration) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = DefaultBindAddress
	}
	addr, err := netutil.FixUnspecifiedHostAddr(c.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "invalid bind-address %#v", c.BindAddress)
	}
	c.BindAddress = addr

	if c.Identity == "" {
		c.Identity = c.BindAddress
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.RESTPort == 0 {
		c.RESTPort = DefaultRESTPort
	}

	if c.TLS.Enabled && (c.TLS.CACert == "" || c.TLS.CAKey == "") {
		return errors.New("tls.enabled requires both tls.ca-cert and tls.ca-key")
	}

	return nil
}
