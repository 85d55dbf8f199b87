package snapshot

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
)

// DigitalOceanConfig configures where a Document Store snapshot is backed
// up to in a DigitalOcean Spaces bucket.
type DigitalOceanConfig struct {
	Endpoint        string
	Bucket          string
	Key             string
	SpacesAccessKey string
	SpacesSecretKey string
}

// DigitalOceanSnapshotter backs a Document Store snapshot up to a Spaces
// bucket. Spaces is S3-compatible, so this just points AmazonSnapshotter's
// S3 client at the Spaces regional endpoint instead.
type DigitalOceanSnapshotter struct {
	*AmazonSnapshotter
}

func NewDigitalOceanSnapshotter(cfg *DigitalOceanConfig) (*DigitalOceanSnapshotter, error) {
	awsCfg := &aws.Config{
		Credentials: credentials.NewStaticCredentials(cfg.SpacesAccessKey, cfg.SpacesSecretKey, ""),
		Endpoint:    aws.String(cfg.Endpoint),
		// This is counter intuitive, but it will fail with a non-AWS region name.
		Region: aws.String("us-east-1"),
	}
	s, err := newAmazonSnapshotter(awsCfg, cfg.Bucket, cfg.Key)
	if err != nil {
		return nil, err
	}
	return &DigitalOceanSnapshotter{s}, nil
}
