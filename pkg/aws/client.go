package aws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// S3Config identifies the bucket holding remote state and archived artifacts.
type S3Config struct {
	Bucket string
	Region string
}

type Client struct {
	s3     s3iface
	config S3Config
}

// s3iface is the subset of the S3 API the pipeline uses.
type s3iface interface {
	ListObjectsV2(*s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	PutObject(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
	DeleteObject(*s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
}

func AddS3Client(cfg S3Config) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, resources.ReturnLogError("error creating AWS S3 client session: %v", err)
	}

	return &Client{
		s3:     s3.New(sess),
		config: cfg,
	}, nil
}
