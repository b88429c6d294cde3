package archive

import (
	"context"
	"testing"
)

func TestParseURI(t *testing.T) {
	cases := []struct {
		uri        string
		wantScheme Scheme
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"", SchemeNone, "", "", false},
		{"gs://my-bucket", SchemeGCS, "my-bucket", "", false},
		{"gs://my-bucket/witness", SchemeGCS, "my-bucket", "witness", false},
		{"s3://other-bucket/a/b/", SchemeS3, "other-bucket", "a/b", false},
		{"ftp://nope", SchemeNone, "", "", true},
	}
	for _, c := range cases {
		scheme, bucket, prefix, err := ParseURI(c.uri)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseURI(%q) error = %v, wantErr %v", c.uri, err, c.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if scheme != c.wantScheme || bucket != c.wantBucket || prefix != c.wantPrefix {
			t.Errorf("ParseURI(%q) = (%q, %q, %q), want (%q, %q, %q)",
				c.uri, scheme, bucket, prefix, c.wantScheme, c.wantBucket, c.wantPrefix)
		}
	}
}

func TestNewDisabledWhenURIEmpty(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil Archiver for empty uri, got %+v", a)
	}
}

func TestNilArchiverArchiveFilesIsNoOp(t *testing.T) {
	var a *Archiver
	if err := a.ArchiveFiles(context.Background(), "/does/not/exist.json"); err != nil {
		t.Fatalf("nil Archiver.ArchiveFiles should be a no-op, got: %v", err)
	}
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	if _, err := New("ftp://bucket/key"); err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
}
