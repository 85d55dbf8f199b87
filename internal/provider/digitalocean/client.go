// Package digitalocean talks to the DigitalOcean API and instance metadata
// service to discover the addresses of other swimkv agents tagged into the
// same droplet group.
package digitalocean

import (
	"context"

	meta "github.com/digitalocean/go-metadata"
	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/criticalstack/swimkv/pkg/netutil"
)

type Config struct {
	AccessToken     string
	SpacesAccessKey string
	SpacesSecretKey string
}

func (cfg *Config) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: cfg.AccessToken}, nil
}

type Client struct {
	*godo.Client
}

func NewClient(cfg *Config) (*Client, error) {
	c := &Client{Client: godo.NewClient(oauth2.NewClient(context.TODO(), cfg))}
	return c, nil
}

// GetAddrsByTag returns the routable private addresses of every droplet
// carrying the given tag, excluding this droplet itself.
func (c *Client) GetAddrsByTag(ctx context.Context, tag string) ([]string, error) {
	metadata, err := meta.NewClient().Metadata()
	if err != nil {
		return nil, err
	}
	droplets, _, err := c.Droplets.ListByTag(ctx, tag, nil)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0)
	for _, d := range droplets {
		if d.ID == metadata.DropletID {
			continue
		}
		addr, err := d.PrivateIPv4()
		if err != nil {
			return nil, err
		}
		if !netutil.IsRoutableIPv4(addr) {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
