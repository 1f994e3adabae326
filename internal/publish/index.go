package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	apperrors "git.home.luguber.info/inful/relbuilder/internal/errors"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

// ErrAlreadyExists is reported when the index refuses a file it already has
// (HTTP 409). The pipeline treats this as a failure, matching twine.
type ErrAlreadyExists struct {
	Name    string
	Version string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("index already has %s %s", e.Name, e.Version)
}

// Index uploads source distributions to the package index using the
// twine-compatible legacy upload protocol: a multipart POST with metadata
// fields and the file in a "content" part.
type Index struct {
	url        string
	username   string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

// NewIndex creates an index uploader. The username defaults to "__token__"
// upstream; it is passed through from config here.
func NewIndex(url, username, token string, policy retry.Policy) *Index {
	return &Index{
		url:        url,
		username:   username,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		policy:     policy,
	}
}

// Publish uploads the archive with its metadata. The multipart body is
// rebuilt per attempt so retries never send a half-consumed reader.
func (i *Index) Publish(ctx context.Context, meta Metadata, archivePath, sha256Hex string) error {
	return retry.Do(ctx, i.policy, "index-upload", apperrors.IsRetryable, func() error {
		body, contentType, err := buildUploadBody(meta, archivePath, sha256Hex)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryIndex, apperrors.SeverityError, "build index request")
		}
		req.Header.Set("Content-Type", contentType)
		req.SetBasicAuth(i.username, i.token)

		resp, err := i.httpClient.Do(req)
		if err != nil {
			return apperrors.WrapRetryable(err, apperrors.CategoryNetwork, apperrors.SeverityError, "index upload request")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusConflict {
			return &ErrAlreadyExists{Name: meta.Name, Version: meta.Version}
		}
		return classifyUploadStatus(resp, apperrors.CategoryIndex, "index upload")
	})
}

// buildUploadBody assembles the legacy-upload multipart form.
func buildUploadBody(meta Metadata, archivePath, sha256Hex string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		":action":                  "file_upload",
		"protocol_version":         "1",
		"metadata_version":         "2.1",
		"name":                     meta.Name,
		"version":                  meta.Version,
		"filetype":                 "sdist",
		"pyversion":                "source",
		"sha256_digest":            sha256Hex,
		"summary":                  meta.Summary,
		"description":              meta.Description,
		"description_content_type": "text/markdown",
		"license":                  meta.License,
		"home_page":                meta.Homepage,
	}
	for key, value := range fields {
		if value == "" && key != ":action" && key != "protocol_version" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", apperrors.Wrap(err, apperrors.CategoryIndex, apperrors.SeverityError, "write form field")
		}
	}

	part, err := w.CreateFormFile("content", filepath.Base(archivePath))
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CategoryIndex, apperrors.SeverityError, "create file part")
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CategoryFileSystem, apperrors.SeverityError, "open archive")
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CategoryFileSystem, apperrors.SeverityError, "read archive")
	}
	if err := w.Close(); err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CategoryIndex, apperrors.SeverityError, "finalize form")
	}

	return &buf, w.FormDataContentType(), nil
}
