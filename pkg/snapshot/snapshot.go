// Package snapshot implements the optional periodic backup of the
// Document Store's CRDT snapshot to a file, S3 bucket, or DigitalOcean
// Spaces bucket.
package snapshot

import (
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSnapshotKey is the object key a snapshot is written under when
// an s3:// or Spaces destination URL does not specify one. file:// URLs
// are used as given.
const DefaultSnapshotKey = "automerge.snapshot"

// Snapshotter loads and saves a Document Store snapshot blob to some
// durable location.
type Snapshotter interface {
	Load() (io.ReadCloser, error)
	Save(io.ReadCloser) error
}

var schemes = []string{
	"file://",
	"s3://",
	"http://",
	"https://",
}

func hasValidScheme(url string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

type Type int

const (
	FileType Type = iota
	S3Type
	SpacesType
)

// URL is a parsed snapshot backup destination. Host is only meaningful
// for SpacesType, naming the regional Spaces endpoint to dial.
type URL struct {
	Type   Type
	Host   string
	Bucket string
	Path   string
}

var (
	ErrInvalidScheme  = errors.New("invalid scheme")
	ErrCannotParseURL = errors.New("cannot parse url")
)

// ParseSnapshotBackupURL deconstructs a snapshot destination URL into a
// Type and the bucket/path it names, e.g.:
//
//	file://path                                 -> FileType,   path
//	s3://bucket                                 -> S3Type,     bucket/automerge.snapshot
//	https://nyc3.digitaloceanspaces.com/bucket  -> SpacesType, bucket/automerge.snapshot
func ParseSnapshotBackupURL(s string) (*URL, error) {
	if !hasValidScheme(s) {
		return nil, errors.Wrapf(ErrInvalidScheme, "url does not specify valid scheme: %#v", s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return &URL{
			Type: FileType,
			Path: filepath.Join(u.Host, u.Path),
		}, nil
	case "s3":
		if u.Path == "" {
			u.Path = DefaultSnapshotKey
		}
		return &URL{
			Type:   S3Type,
			Bucket: u.Host,
			Path:   strings.TrimPrefix(u.Path, "/"),
		}, nil
	case "http", "https":
		if strings.Contains(u.Host, "digitaloceanspaces") {
			bucket, path := parseBucketKey(strings.TrimPrefix(u.Path, "/"))
			return &URL{
				Type:   SpacesType,
				Host:   u.Host,
				Bucket: bucket,
				Path:   path,
			}, nil
		}
	}
	return nil, errors.Wrap(ErrCannotParseURL, s)
}

func parseBucketKey(s string) (string, string) {
	parts := strings.SplitN(s, "/", 2)
	switch len(parts) {
	case 1:
		return parts[0], DefaultSnapshotKey
	case 2:
		return parts[0], parts[1]
	default:
		return "", ""
	}
}
