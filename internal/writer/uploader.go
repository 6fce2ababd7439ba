// uploader.go implements the writer's multipart upload protocol against
// an S3-compatible endpoint: initialize, PUT numbered parts recording
// their etags, then POST a completion document listing them in order.
// This mirrors writer_s3_init_cb / writer_s3_send / the completion body
// built in writer-s3.c, expressed via aws-sdk-go-v2's S3 client instead
// of the hand-rolled SigV4 signing the C plugin performs itself.
package writer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"

	"github.com/arkime-go/capture/cfg"
)

// Uploader drives one S3 bucket's multipart-upload protocol. A single
// Uploader is shared by every packet thread's Writer since the S3 client
// itself is safe for concurrent use.
type Uploader struct {
	client *s3.Client
	bucket string
	class  types.StorageClass
}

// NewUploader builds an S3 client against cfg's endpoint settings, using
// creds for request signing. s3Host, when set, overrides the default AWS
// endpoint (for S3-compatible object stores); s3UseHttp selects the
// unencrypted scheme for that override.
func NewUploader(c cfg.Config, creds *CredentialRefresher) *Uploader {
	client := s3.New(s3.Options{
		Region:       c.S3Region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return creds.Provider().Retrieve(ctx)
		}),
		UsePathStyle: c.S3Host != "",
		BaseEndpoint: endpointFor(c),
	})
	return &Uploader{
		client: client,
		bucket: c.S3Bucket,
		class:  types.StorageClass(c.S3StorageClass),
	}
}

func endpointFor(c cfg.Config) *string {
	if c.S3Host == "" {
		return nil
	}
	scheme := "https"
	if c.S3UseHTTP {
		scheme = "http"
	}
	return aws.String(fmt.Sprintf("%s://%s", scheme, c.S3Host))
}

// Part is one completed upload part, keyed by its 1-based part number.
type Part struct {
	Number int32
	ETag   string
}

// Begin initializes a multipart upload for key and returns the upload id
// that subsequent PutPart/Complete calls must reference.
func (u *Uploader) Begin(ctx context.Context, key string) (uploadID string, err error) {
	out, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		StorageClass: u.class,
	})
	if err != nil {
		return "", errors.Wrapf(err, "writer: CreateMultipartUpload failed for %s", key)
	}
	return aws.ToString(out.UploadId), nil
}

// PutPart uploads one numbered part and returns its etag, to be recorded
// for the eventual completion document.
func (u *Uploader) PutPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (Part, error) {
	out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return Part{}, errors.Wrapf(err, "writer: UploadPart %d failed for %s", partNumber, key)
	}
	return Part{Number: partNumber, ETag: aws.ToString(out.ETag)}, nil
}

// Complete finishes the multipart upload, listing parts in ascending
// part-number order as writer-s3.c's completion XML body does.
func (u *Uploader) Complete(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{ETag: aws.String(p.ETag), PartNumber: aws.Int32(p.Number)}
	}
	_, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return errors.Wrapf(err, "writer: CompleteMultipartUpload failed for %s", key)
	}
	return nil
}

// Abort cancels an in-progress multipart upload, used when a file is
// abandoned after a part PUT fails (§7, "I/O failure on writer").
func (u *Uploader) Abort(ctx context.Context, key, uploadID string) error {
	_, err := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return errors.Wrapf(err, "writer: AbortMultipartUpload failed for %s", key)
}