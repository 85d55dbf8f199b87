package snapshot

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/criticalstack/swimkv/pkg/gziputil"
	"github.com/criticalstack/swimkv/pkg/log"
	"github.com/criticalstack/swimkv/pkg/snapshot/crypto"
)

// DocumentStore is the subset of the Document Store's interface a
// periodic backup needs.
type DocumentStore interface {
	Snapshot() []byte
}

// Backup periodically writes a Document Store's snapshot out to a
// Snapshotter, optionally gzip-compressed and/or AES-CTR encrypted.
type Backup struct {
	store       DocumentStore
	dst         Snapshotter
	interval    time.Duration
	compression bool
	key         *[32]byte
}

// SpacesCredentials carries the DigitalOcean Spaces access key pair a
// SpacesType destination needs; it is nil for any other destination type.
type SpacesCredentials struct {
	AccessKey string
	SecretKey string
}

// authTagSize is the combined size in bytes of the IV and HMAC-512/256 tag
// crypto.Encrypt wraps around the ciphertext.
const authTagSize = 16 + 32

// NewBackup constructs a Backup from a destination URL (as produced by
// ParseSnapshotBackupURL) and the raw interval/compression settings.
// spaces is only consulted when u.Type is SpacesType. key, when non-nil,
// encrypts every snapshot this Backup writes with AES-256-CTR, authenticated
// by HMAC-512/256 (pkg/snapshot/crypto); the same key must be supplied to
// Restore to read a snapshot back.
func NewBackup(store DocumentStore, u *URL, interval time.Duration, compression bool, spaces *SpacesCredentials, key *[32]byte) (*Backup, error) {
	var dst Snapshotter
	var err error
	switch u.Type {
	case FileType:
		dst, err = NewFileSnapshotter(u.Path)
	case S3Type:
		dst, err = NewAmazonSnapshotter(&AmazonConfig{Bucket: u.Bucket, Key: u.Path})
	case SpacesType:
		if spaces == nil {
			return nil, errors.New("spaces backup destination requires spaces-access-key and spaces-secret-key")
		}
		dst, err = NewDigitalOceanSnapshotter(&DigitalOceanConfig{
			Endpoint:        u.Host,
			Bucket:          u.Bucket,
			Key:             u.Path,
			SpacesAccessKey: spaces.AccessKey,
			SpacesSecretKey: spaces.SecretKey,
		})
	default:
		return nil, errors.Errorf("unsupported snapshot destination type: %v", u.Type)
	}
	if err != nil {
		return nil, err
	}
	return &Backup{store: store, dst: dst, interval: interval, compression: compression, key: key}, nil
}

// Once performs a single snapshot save, independent of the timer loop.
func (b *Backup) Once() error {
	data := b.store.Snapshot()
	var r io.ReadCloser = io.NopCloser(bytes.NewReader(data))
	if b.compression {
		r = gziputil.NewGzipReadCloser(r, -1)
	}
	if b.key == nil {
		return b.dst.Save(r)
	}
	defer r.Close()
	var buf bytes.Buffer
	if err := crypto.Encrypt(r, &buf, b.key); err != nil {
		return errors.Wrap(err, "cannot encrypt snapshot")
	}
	return b.dst.Save(io.NopCloser(&buf))
}

// Restore loads the most recently saved snapshot back, reversing whatever
// encryption and compression this Backup was configured with.
func (b *Backup) Restore() ([]byte, error) {
	rc, err := b.dst.Load()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := io.Reader(rc)
	if b.key != nil {
		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		if len(raw) < authTagSize {
			return nil, errors.New("snapshot too short to have been encrypted by this Backup")
		}
		var buf bytes.Buffer
		if err := crypto.Decrypt(bytes.NewReader(raw), &buf, int64(len(raw)-authTagSize), b.key); err != nil {
			return nil, errors.Wrap(err, "cannot decrypt snapshot")
		}
		r = &buf
	}
	if !b.compression {
		return io.ReadAll(r)
	}
	gr, err := gziputil.NewGunzipReadCloser(io.NopCloser(r))
	if err != nil {
		return nil, errors.Wrap(err, "cannot decompress snapshot")
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// Run blocks, saving a snapshot on every tick of the interval until ctx is
// cancelled.
func (b *Backup) Run(ctx context.Context) {
	if b.interval <= 0 {
		return
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Once(); err != nil {
				log.Errorf("snapshot backup failed: %v", err)
			}
		}
	}
}
