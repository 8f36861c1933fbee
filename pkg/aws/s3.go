package aws

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// StateExists reports whether any remote state object exists under the
// workspace prefix.
func (c *Client) StateExists(prefix string) (bool, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
		Prefix: aws.String(prefix),
	}

	objList, err := c.s3.ListObjectsV2(input)
	if err != nil {
		return false, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
	}

	return len(objList.Contents) > 0, nil
}

// UploadArtifact uploads a local file under the given key prefix, returning
// the object key.
func (c *Client) UploadArtifact(prefix, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer file.Close()

	key := prefix + "/" + filepath.Base(path)
	_, err = c.s3.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	resources.LogLevel("info", "uploaded artifact %s to bucket %s", key, c.config.Bucket)

	return key, nil
}

// DeleteStatePrefix removes the newest object under the given prefix, used to
// clear a leftover workspace state after destroy.
func (c *Client) DeleteStatePrefix(prefix string) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
		Prefix: aws.String(prefix),
	}

	objList, err := c.s3.ListObjectsV2(input)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	if len(objList.Contents) == 0 {
		return fmt.Errorf("no objects found with prefix %s", prefix)
	}

	sort.Slice(objList.Contents, func(i, j int) bool {
		return objList.Contents[i].LastModified.After(*objList.Contents[j].LastModified)
	})

	key := aws.StringValue(objList.Contents[0].Key)
	_, delErr := c.s3.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
	})
	if delErr != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, delErr)
	}

	resources.LogLevel("info", "deleted object %s from bucket %s", key, c.config.Bucket)

	return nil
}
