// Package s3store implements agent/template.Loader against an S3-compatible
// object store, the external collaborator spec.md 4.3 describes as holding
// prompt markdown files.
package s3store

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mottych/purposepath-ai/agent/topic"
)

// Loader loads template text from a single S3 bucket, keyed by
// topic.TemplateRef.Ref (the object key) and topic.TemplateRef.Version (an
// optional object version id).
type Loader struct {
	client *s3.Client
	bucket string
}

// New constructs a Loader against bucket using client.
func New(client *s3.Client, bucket string) *Loader {
	return &Loader{client: client, bucket: bucket}
}

// Load implements template.Loader.
func (l *Loader) Load(ctx context.Context, ref topic.TemplateRef) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(ref.Ref),
	}
	if ref.Version != "" {
		input.VersionId = aws.String(ref.Version)
	}

	out, err := l.client.GetObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("s3store: get object %s/%s: %w", l.bucket, ref.Ref, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("s3store: read object %s/%s: %w", l.bucket, ref.Ref, err)
	}
	return string(body), nil
}
