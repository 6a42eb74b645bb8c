// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package offsite

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/testutil"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"ok": {
			cfg: Config{Endpoint: "s3.example.com", Bucket: "backups", AccessKey: "a", SecretKey: "s", UseSSL: true},
		},
		"no bucket": {
			cfg:     Config{Endpoint: "s3.example.com", AccessKey: "a", SecretKey: "s"},
			wantErr: true,
		},
		"no credentials": {
			cfg:     Config{Endpoint: "s3.example.com", Bucket: "backups"},
			wantErr: true,
		},
		"endpoint with scheme": {
			cfg:     Config{Endpoint: "https://s3.example.com", Bucket: "backups", AccessKey: "a", SecretKey: "s"},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.cfg)
			testutil.AssertEqual(t, err != nil, tc.wantErr)
		})
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		prefix string
		want   string
	}{
		"no prefix":      {prefix: "", want: "backup_20261017_120000.tar.gz"},
		"prefix":         {prefix: "receipts", want: "receipts/backup_20261017_120000.tar.gz"},
		"slashed prefix": {prefix: "/receipts/prod/", want: "receipts/prod/backup_20261017_120000.tar.gz"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			u := &Uploader{bucket: "b", prefix: tc.prefix}
			testutil.AssertEqual(t, u.Key("backup_20261017_120000.tar.gz"), tc.want)
		})
	}
}

// request is what the bucket stub saw.
type request struct {
	method string
	path   string
	kind   string
	ts     string
}

// bucketStub serves just enough of the S3 API for uploads and bucket checks.
type bucketStub struct {
	mu       sync.Mutex
	requests []request
	status   int // of object uploads
	exists   bool
}

func (b *bucketStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, request{
		method: r.Method,
		path:   r.URL.Path,
		kind:   r.Header.Get("X-Amz-Meta-Kind"),
		ts:     r.Header.Get("X-Amz-Meta-Timestamp"),
	})
	status, exists := b.status, b.exists
	b.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied.</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *bucketStub) seen() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]request(nil), b.requests...)
}

func newUploader(t *testing.T, stub *bucketStub) *Uploader {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	up, err := New(Config{
		Endpoint:  u.Host,
		Bucket:    "backups",
		Prefix:    "receipts",
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	return up
}

func testArchive(t *testing.T) *backup.Archive {
	t.Helper()
	name := backup.Name(backup.KindDeploy, "20261017_120000")
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not really gzip"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &backup.Archive{
		Name:      name,
		Path:      path,
		Kind:      backup.KindDeploy,
		Timestamp: "20261017_120000",
		Size:      15,
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	stub := &bucketStub{status: http.StatusOK, exists: true}
	u := newUploader(t, stub)

	key, err := u.Upload(context.Background(), testArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, key, "receipts/backup_20261017_120000.tar.gz")

	var put *request
	for _, r := range stub.seen() {
		if r.method == http.MethodPut {
			put = &r
		}
	}
	if put == nil {
		t.Fatalf("no PUT request, got %+v", stub.seen())
	}
	testutil.AssertEqual(t, put.path, "/backups/receipts/backup_20261017_120000.tar.gz")
	testutil.AssertEqual(t, put.kind, "backup")
	testutil.AssertEqual(t, put.ts, "20261017_120000")
}

func TestUploadDenied(t *testing.T) {
	t.Parallel()

	stub := &bucketStub{status: http.StatusForbidden, exists: true}
	u := newUploader(t, stub)

	_, err := u.Upload(context.Background(), testArchive(t))
	if err == nil {
		t.Fatal("Upload succeeded, want an error")
	}
	testutil.AssertSubstring(t, err.Error(), "offsite: uploading backup_20261017_120000.tar.gz to backups")
}

func TestHealthy(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		exists  bool
		wantErr string
	}{
		"bucket exists":  {exists: true},
		"missing bucket": {exists: false, wantErr: "offsite: bucket backups does not exist"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stub := &bucketStub{status: http.StatusOK, exists: tc.exists}
			err := newUploader(t, stub).Healthy(context.Background())
			if tc.wantErr == "" {
				if err != nil {
					t.Fatal(err)
				}
			} else {
				if err == nil {
					t.Fatalf("want error %q, got nil", tc.wantErr)
				}
				testutil.AssertSubstring(t, err.Error(), tc.wantErr)
			}
			reqs := stub.seen()
			if len(reqs) == 0 || reqs[0].method != http.MethodHead {
				t.Fatalf("want a HEAD request, got %+v", reqs)
			}
		})
	}
}
