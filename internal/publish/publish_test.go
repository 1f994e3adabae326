package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "git.home.luguber.info/inful/relbuilder/internal/errors"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

func fastPolicy(retries int) retry.Policy {
	return retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: retries}
}

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labxdb-1.2.3.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("gzip-bytes"), 0o644))
	return path
}

func TestResolveTokenEnvWins(t *testing.T) {
	t.Setenv("RELBUILDER_TEST_TOKEN", "from-env")
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("from-file\n"), 0o600))

	token, err := ResolveToken("RELBUILDER_TEST_TOKEN", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestResolveTokenFileFallback(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("  pypi-AgEI...  \n"), 0o600))

	token, err := ResolveToken("RELBUILDER_UNSET_VAR", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "pypi-AgEI...", token)
}

func TestResolveTokenErrors(t *testing.T) {
	_, err := ResolveToken("", "")
	assert.ErrorContains(t, err, "no token source")

	_, err = ResolveToken("RELBUILDER_UNSET_VAR", "")
	assert.ErrorContains(t, err, "unset or empty")

	empty := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = ResolveToken("", empty)
	assert.ErrorContains(t, err, "is empty")

	_, err = ResolveToken("", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "read token file")
}

func TestArtifactHostUpload(t *testing.T) {
	var gotPath, gotAuth, gotChecksum string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotChecksum = r.Header.Get("X-Checksum-Sha256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	host := NewArtifactHost(srv.URL+"/artifacts/", "tok123", fastPolicy(0))
	err := host.Upload(context.Background(), writeArchive(t), "cafe")
	require.NoError(t, err)

	assert.Equal(t, "/artifacts/labxdb-1.2.3.tar.gz", gotPath)
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "cafe", gotChecksum)
	assert.Equal(t, "gzip-bytes", string(gotBody))
}

func TestArtifactHostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host := NewArtifactHost(srv.URL, "tok", fastPolicy(2))
	err := host.Upload(context.Background(), writeArchive(t), "cafe")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestArtifactHostPermanentRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	host := NewArtifactHost(srv.URL, "tok", fastPolicy(3))
	err := host.Upload(context.Background(), writeArchive(t), "cafe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.False(t, apperrors.IsRetryable(err))
	// Permanent errors must not burn retry attempts.
	assert.Equal(t, int32(1), calls.Load())
}

func TestIndexPublish(t *testing.T) {
	var gotUser, gotPass string
	fields := map[string]string{}
	var fileContent []byte
	var fileName string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		fh := r.MultipartForm.File["content"][0]
		fileName = fh.Filename
		f, err := fh.Open()
		require.NoError(t, err)
		fileContent, _ = io.ReadAll(f)
		_ = f.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	meta := Metadata{
		Name:    "labxdb",
		Version: "1.2.3",
		Summary: "Database for biology labs",
		License: "MPL-2.0",
	}
	idx := NewIndex(srv.URL, "__token__", "pypi-tok", fastPolicy(0))
	err := idx.Publish(context.Background(), meta, writeArchive(t), "cafebabe")
	require.NoError(t, err)

	assert.Equal(t, "__token__", gotUser)
	assert.Equal(t, "pypi-tok", gotPass)
	assert.Equal(t, "file_upload", fields[":action"])
	assert.Equal(t, "1", fields["protocol_version"])
	assert.Equal(t, "labxdb", fields["name"])
	assert.Equal(t, "1.2.3", fields["version"])
	assert.Equal(t, "sdist", fields["filetype"])
	assert.Equal(t, "source", fields["pyversion"])
	assert.Equal(t, "cafebabe", fields["sha256_digest"])
	assert.Equal(t, "Database for biology labs", fields["summary"])
	assert.Equal(t, "MPL-2.0", fields["license"])
	assert.NotContains(t, fields, "home_page") // empty optional fields are omitted
	assert.Equal(t, "labxdb-1.2.3.tar.gz", fileName)
	assert.Equal(t, "gzip-bytes", string(fileContent))
}

func TestIndexPublishConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file already exists", http.StatusConflict)
	}))
	defer srv.Close()

	idx := NewIndex(srv.URL, "__token__", "t", fastPolicy(0))
	err := idx.Publish(context.Background(), Metadata{Name: "labxdb", Version: "1.0"}, writeArchive(t), "x")
	require.Error(t, err)

	var exists *ErrAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "labxdb", exists.Name)
	assert.Equal(t, "1.0", exists.Version)
}

func TestIndexPublishBadRequestSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "400 Invalid version string", http.StatusBadRequest)
	}))
	defer srv.Close()

	idx := NewIndex(srv.URL, "__token__", "t", fastPolicy(0))
	err := idx.Publish(context.Background(), Metadata{Name: "p", Version: "bad"}, writeArchive(t), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid version string")
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryIndex))
}

func TestMetadataWithDescription(t *testing.T) {
	dir := t.TempDir()
	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("# labxdb\n\nIntro.\n"), 0o644))

	m := Metadata{Name: "labxdb"}.WithDescription(readme, "- Fixed tags")
	assert.Contains(t, m.Description, "# labxdb")
	assert.Contains(t, m.Description, "## Release notes")
	assert.Contains(t, m.Description, "- Fixed tags")

	// Missing README: only notes survive.
	m = Metadata{}.WithDescription(filepath.Join(dir, "missing.md"), "notes")
	assert.Equal(t, "## Release notes\n\nnotes", m.Description)

	// Nothing available: empty description.
	m = Metadata{}.WithDescription("", "")
	assert.Empty(t, m.Description)
}

func TestArtifactHostRetriedUploadCountsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var retried []string
	policy := fastPolicy(2)
	policy.OnRetry = func(op string) { retried = append(retried, op) }

	host := NewArtifactHost(srv.URL, "tok", policy)
	err := host.Upload(context.Background(), writeArchive(t), "cafe")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact-upload"}, retried, "each retried attempt feeds the retry counter")
}
