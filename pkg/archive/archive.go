// Package archive is an optional, fail-open remote copy of witness
// artifacts: after a successful witness write, if the quality contract
// configures a gs:// or s3:// archive URI, the witness JSON file and its
// hash-chain file are also copied to that bucket. This is a SPEC_FULL
// addition purely for durability/audit retention off the local disk — it
// never participates in the gate decision, since the distilled spec's
// non-goals forbid verdict-affecting network I/O on the validate/gate
// path. Every error this package returns is meant to be logged, never
// propagated into a decision.
//
// Grounded on the teacher's core/pkg/artifacts/{gcs_store,s3_store}.go:
// the same bucket+prefix addressing and lazy per-scheme client
// construction, narrowed from a general content-addressed blob store down
// to "copy this one file to this one bucket" since that is all archival
// needs here.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Scheme identifies which cloud object store an archive URI targets.
type Scheme string

const (
	SchemeNone Scheme = ""
	SchemeGCS  Scheme = "gs"
	SchemeS3   Scheme = "s3"
)

// ParseURI splits an "archive_uri" value of the form "gs://bucket/prefix"
// or "s3://bucket/prefix" into its scheme, bucket, and key prefix. An
// empty uri returns SchemeNone with no error — archival is simply
// disabled.
func ParseURI(uri string) (Scheme, string, string, error) {
	if uri == "" {
		return SchemeNone, "", "", nil
	}
	for _, scheme := range []Scheme{SchemeGCS, SchemeS3} {
		prefix := string(scheme) + "://"
		if strings.HasPrefix(uri, prefix) {
			rest := strings.TrimPrefix(uri, prefix)
			bucket, key, _ := strings.Cut(rest, "/")
			return scheme, bucket, strings.Trim(key, "/"), nil
		}
	}
	return SchemeNone, "", "", fmt.Errorf("archive: unsupported uri scheme in %q (want gs:// or s3://)", uri)
}

// Archiver copies local files to a configured remote bucket.
type Archiver struct {
	scheme Scheme
	bucket string
	prefix string
}

// New builds an Archiver from a quality contract's archive_uri. A nil
// *Archiver (returned alongside a nil error) means archival is disabled;
// every method on a nil Archiver is a no-op.
func New(archiveURI string) (*Archiver, error) {
	scheme, bucket, prefix, err := ParseURI(archiveURI)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeNone {
		return nil, nil
	}
	return &Archiver{scheme: scheme, bucket: bucket, prefix: prefix}, nil
}

// ArchiveFiles best-effort copies each local path to the archiver's
// bucket under its configured prefix, preserving the file's base name.
// A nil Archiver makes this a no-op. The first error is returned so a
// caller can log it, but callers in the gate/validate path must not treat
// it as a decision-affecting failure.
func (a *Archiver) ArchiveFiles(ctx context.Context, localPaths ...string) error {
	if a == nil {
		return nil
	}
	for _, p := range localPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("archive: read %s: %w", p, err)
		}
		key := path.Join(a.prefix, path.Base(p))
		if err := a.put(ctx, key, data); err != nil {
			return fmt.Errorf("archive: put %s: %w", key, err)
		}
	}
	return nil
}

func (a *Archiver) put(ctx context.Context, key string, data []byte) error {
	switch a.scheme {
	case SchemeGCS:
		return putGCS(ctx, a.bucket, key, data)
	case SchemeS3:
		return putS3(ctx, a.bucket, key, data)
	default:
		return fmt.Errorf("archive: unknown scheme %q", a.scheme)
	}
}

func putGCS(ctx context.Context, bucket, key string, data []byte) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client: %w", err)
	}
	defer client.Close()

	w := client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close: %w", err)
	}
	return nil
}

func putS3(ctx context.Context, bucket, key string, data []byte) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}
