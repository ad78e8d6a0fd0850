package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat"
	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/snapshotstore"
)

// openStore picks a snapshot store from spec: "", "memory", "sqlite:<path>"
// or "s3://<bucket>/<key>". The returned close func is never nil.
func openStore(ctx context.Context, spec, name string) (ddpchat.SnapshotStore, func(), error) {
	noop := func() {}
	switch {
	case spec == "":
		return nil, noop, nil
	case spec == "memory":
		return snapshotstore.NewMemory(), noop, nil
	case strings.HasPrefix(spec, "sqlite:"):
		store, err := snapshotstore.OpenSQLite(strings.TrimPrefix(spec, "sqlite:"), name)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case strings.HasPrefix(spec, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(spec, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, noop, fmt.Errorf("s3 store needs s3://<bucket>/<key>, got %q", spec)
		}
		client, err := newS3Client(ctx)
		if err != nil {
			return nil, noop, err
		}
		return snapshotstore.NewS3(client, bucket, key), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown snapshot store %q", spec)
	}
}

// newS3Client loads the default AWS configuration chain (environment,
// shared config, SSO, instance roles). AWS_ENDPOINT_URL switches to
// path-style addressing for S3-compatible servers.
func newS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if os.Getenv("AWS_ENDPOINT_URL") != "" {
			o.UsePathStyle = true
		}
	}), nil
}
