// Package discovery resolves the initial set of peer addresses an agent
// announces itself to, by querying a cloud provider's tagging or
// autoscaling APIs instead of requiring them to be listed by hand.
package discovery

import (
	"context"
	"os"

	"github.com/pkg/errors"

	awsprovider "github.com/criticalstack/swimkv/internal/provider/aws"
	doprovider "github.com/criticalstack/swimkv/internal/provider/digitalocean"
)

func envOrEmpty(key string) string {
	return os.Getenv(key)
}

// PeerGetter resolves a set of peer addresses to announce to.
type PeerGetter interface {
	GetAddrs(context.Context) ([]string, error)
}

// NoopGetter never discovers any peers, used when discovery is disabled.
type NoopGetter struct{}

func (*NoopGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

// KeyValue is a single tag key/value pair used to filter instances.
type KeyValue struct {
	Key, Value string
}

type AmazonAutoScalingPeerGetter struct {
	*awsprovider.Client
}

func NewAmazonAutoScalingPeerGetter() (*AmazonAutoScalingPeerGetter, error) {
	awsCfg, err := awsprovider.NewConfig()
	if err != nil {
		return nil, err
	}
	client, err := awsprovider.NewClient(awsCfg)
	if err != nil {
		return nil, err
	}
	return &AmazonAutoScalingPeerGetter{client}, nil
}

func (p *AmazonAutoScalingPeerGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return p.GetAutoScalingGroupAddresses(ctx)
}

type AmazonInstanceTagPeerGetter struct {
	*awsprovider.Client
	tags map[string]string
}

func NewAmazonInstanceTagPeerGetter(kvs []KeyValue) (*AmazonInstanceTagPeerGetter, error) {
	if len(kvs) == 0 {
		return nil, errors.New("must provide at least 1 tag key/value")
	}
	awsCfg, err := awsprovider.NewConfig()
	if err != nil {
		return nil, err
	}
	client, err := awsprovider.NewClient(awsCfg)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string)
	for _, kv := range kvs {
		tags[kv.Key] = kv.Value
	}
	return &AmazonInstanceTagPeerGetter{
		Client: client,
		tags:   tags,
	}, nil
}

func (p *AmazonInstanceTagPeerGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return p.GetAddressesByTag(ctx, p.tags)
}

type DigitalOceanConfig struct {
	TagValue string
}

type DigitalOceanPeerGetter struct {
	*doprovider.Client
	cfg *DigitalOceanConfig
}

func NewDigitalOceanPeerGetter(cfg *DigitalOceanConfig) (*DigitalOceanPeerGetter, error) {
	client, err := doprovider.NewClient(&doprovider.Config{
		AccessToken:     envOrEmpty("DIGITALOCEAN_ACCESS_TOKEN"),
		SpacesAccessKey: envOrEmpty("DIGITALOCEAN_SPACES_ACCESS_KEY"),
		SpacesSecretKey: envOrEmpty("DIGITALOCEAN_SPACES_SECRET_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return &DigitalOceanPeerGetter{Client: client, cfg: cfg}, nil
}

func (p *DigitalOceanPeerGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return p.GetAddrsByTag(ctx, p.cfg.TagValue)
}
