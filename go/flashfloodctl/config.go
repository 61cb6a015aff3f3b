package main

import (
	"context"
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/xbrianh/flashflood/go/flashflood"
	"github.com/xbrianh/flashflood/go/store"
	"github.com/xbrianh/flashflood/go/store/gsstore"
	"github.com/xbrianh/flashflood/go/store/s3store"
)

// S3Config configures the S3 adapter. Empty credentials fall back to the
// SDK's default chain (environment, shared credentials, instance role).
type S3Config struct {
	Region          string `long:"region" description:"AWS region of the bucket"`
	AccessKeyID     string `long:"access-key-id" description:"AWS access key id"`
	SecretAccessKey string `long:"secret-access-key" description:"AWS secret access key"`
	Endpoint        string `long:"endpoint" description:"Alternative S3 endpoint, such as a MinIO instance"`
	VerifyPuts      bool   `long:"verify-puts" description:"Wait for written objects to become visible before returning"`
}

// GSConfig configures the Google Cloud Storage adapter.
type GSConfig struct {
	CredentialsFile string `long:"credentials-file" description:"Path of a service account key. Empty uses application default credentials"`
}

// StoreConfig selects and configures the blob store holding a flashflood
// instance. Every command embeds it.
type StoreConfig struct {
	Provider string        `long:"provider" default:"s3" choice:"s3" choice:"gs" description:"Blob store provider"`
	Bucket   string        `long:"bucket" required:"true" description:"Bucket holding the instance"`
	Prefix   string        `long:"prefix" default:"flashflood" description:"Root prefix of the instance within the bucket"`
	Workers  int           `long:"workers" default:"10" description:"Parallel store requests during compaction and teardown"`
	TTL      time.Duration `long:"presign-ttl" default:"1h" description:"Lifetime of presigned stream URLs"`

	S3 S3Config `group:"S3" namespace:"s3" env-namespace:"S3"`
	GS GSConfig `group:"GS" namespace:"gs" env-namespace:"GS"`
}

// newStore builds the configured store adapter.
func (cfg *StoreConfig) newStore(ctx context.Context) (store.Store, error) {
	switch cfg.Provider {
	case "s3":
		return s3store.New(&s3store.Config{
			Bucket:             cfg.Bucket,
			Region:             cfg.S3.Region,
			AWSAccessKeyID:     cfg.S3.AccessKeyID,
			AWSSecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:           cfg.S3.Endpoint,
			VerifyPuts:         cfg.S3.VerifyPuts,
		})
	case "gs":
		return gsstore.New(ctx, &gsstore.Config{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.GS.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}

// newFlood builds a FlashFlood engine over the configured store.
func (cfg *StoreConfig) newFlood(ctx context.Context) (*flashflood.FlashFlood, error) {
	var s, err = cfg.newStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("building store: %w", err)
	}
	return flashflood.New(s, flashflood.Config{
		RootPrefix: cfg.Prefix,
		Workers:    cfg.Workers,
		PresignTTL: cfg.TTL,
	})
}

// parseTimeFlag reads a --from or --to flag, accepting the journal
// timestamp encoding or RFC 3339. Empty leaves the endpoint unbounded.
func parseTimeFlag(s string) (flashflood.Timestamp, error) {
	if s == "" {
		return "", nil
	}
	if ts, err := flashflood.ParseTimestamp(s); err == nil {
		return ts, nil
	}
	var t, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("parsing time %q (want 2006-01-02T150405.000000Z or RFC 3339)", s)
	}
	return flashflood.At(t), nil
}

// parseSizeFlag reads a byte-size flag such as "100MB" or "1GiB".
func parseSizeFlag(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	var size, err = units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", s, err)
	}
	return size, nil
}
