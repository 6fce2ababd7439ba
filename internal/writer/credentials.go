// credentials.go resolves AWS credentials for the S3 uploader from one of
// three sources (static config, EC2 instance-metadata, or ECS container
// metadata), matching writer-s3.c's arkime_get_instance_metadata /
// s3UseECSEnv handling, and refreshes them periodically so a long-running
// capture process doesn't upload with an expired IMDS/ECS token.
package writer

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/pkg/errors"

	"github.com/arkime-go/capture/cfg"
	"github.com/arkime-go/capture/internal/freelater"
)

// CredentialSource selects how CredentialRefresher resolves provider
// construction, mirroring s3UseTokenForMetadata/s3UseECSEnv (§6).
type CredentialSource int

const (
	// CredentialSourceDefault lets the AWS SDK's default chain decide
	// (environment, shared config, EC2 IMDS) - used when neither
	// s3UseTokenForMetadata nor s3UseECSEnv select a specific source.
	CredentialSourceDefault CredentialSource = iota
	CredentialSourceIMDS
	CredentialSourceECS
)

// CredentialRefresher holds a swappable aws.CredentialsProvider, rebuilt
// on a timer so a rotating IMDS/ECS token never goes stale mid-upload.
// The previous provider is retired through the free-later pool instead of
// being freed immediately, since an in-flight request may still hold a
// pointer to it (§4.G, "dynamic credentials ... swapped via the
// free-later pool").
type CredentialRefresher struct {
	source CredentialSource
	region string

	current atomic.Value // aws.CredentialsProvider
	free    *freelater.Pool
}

// NewCredentialRefresher builds the initial provider per cfg.S3UseTokenForMetadata/
// S3UseECSEnv and readies it for periodic Refresh calls.
func NewCredentialRefresher(c cfg.Config, free *freelater.Pool) (*CredentialRefresher, error) {
	src := CredentialSourceDefault
	switch {
	case c.S3UseECSEnv:
		src = CredentialSourceECS
	case c.S3UseTokenForMetadata:
		src = CredentialSourceIMDS
	}

	r := &CredentialRefresher{source: src, region: c.S3Region, free: free}
	provider, err := r.build(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "writer: failed to resolve initial S3 credentials")
	}
	r.current.Store(provider)
	return r, nil
}

func (r *CredentialRefresher) build(ctx context.Context) (aws.CredentialsProvider, error) {
	switch r.source {
	case CredentialSourceECS:
		if os.Getenv("ECS_CONTAINER_METADATA_URI_V4") == "" {
			return nil, errors.New("ECS_CONTAINER_METADATA_URI_V4 not set")
		}
		if os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") == "" {
			return nil, errors.New("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI not set")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(r.region))
		if err != nil {
			return nil, err
		}
		// The SDK's default chain already resolves the ECS container
		// metadata endpoint once AWS_CONTAINER_CREDENTIALS_RELATIVE_URI
		// is set; LoadDefaultConfig's resolved provider is used directly.
		return awsCfg.Credentials, nil

	case CredentialSourceIMDS:
		client := imds.New(imds.Options{})
		return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			out, err := client.GetCredentials(ctx, &imds.GetCredentialsInput{})
			if err != nil {
				return aws.Credentials{}, errors.Wrap(err, "writer: IMDS credential fetch failed")
			}
			return aws.Credentials{
				AccessKeyID:     out.AccessKeyID,
				SecretAccessKey: out.SecretAccessKey,
				SessionToken:    out.Token,
				Source:          "ec2imds",
				CanExpire:       true,
				Expires:         out.Expires,
			}, nil
		}), nil

	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(r.region))
		if err != nil {
			return nil, err
		}
		return awsCfg.Credentials, nil
	}
}

// Provider returns the currently active credentials provider.
func (r *CredentialRefresher) Provider() aws.CredentialsProvider {
	return r.current.Load().(aws.CredentialsProvider)
}

// Refresh rebuilds the provider and retires the old one through the
// free-later pool. Intended to be called from the main loop's timer
// (§4.H) rather than from a request path.
func (r *CredentialRefresher) Refresh(ctx context.Context) error {
	next, err := r.build(ctx)
	if err != nil {
		return errors.Wrap(err, "writer: credential refresh failed, keeping previous provider")
	}
	old := r.current.Swap(next)
	r.free.Retire(old)
	return nil
}

// StaticCredentials builds a provider from static config values, used in
// tests and for the "static config" source named in §4.G.
func StaticCredentials(accessKey, secretKey, token string) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(accessKey, secretKey, token)
}

// refreshInterval is how often the main loop should call Refresh; IMDS
// and ECS tokens are typically valid for at least several minutes, so a
// conservative fixed interval avoids needing per-credential expiry
// tracking in the hot path.
const refreshInterval = 5 * time.Minute

// RefreshInterval exposes refreshInterval for the engine's timer setup.
func RefreshInterval() time.Duration {
	return refreshInterval
}