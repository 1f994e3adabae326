package publish

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "git.home.luguber.info/inful/relbuilder/internal/errors"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

// ArtifactHost uploads archives to the artifact storage service with a
// single PUT per file.
type ArtifactHost struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

// NewArtifactHost creates an uploader for the given base URL and token.
func NewArtifactHost(baseURL, token string, policy retry.Policy) *ArtifactHost {
	return &ArtifactHost{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		policy:     policy,
	}
}

// Upload PUTs the archive to <baseURL>/<filename>. Server-side failures
// (5xx, 429) are retried; client-side rejections are permanent.
func (a *ArtifactHost) Upload(ctx context.Context, archivePath, sha256Hex string) error {
	filename := filepath.Base(archivePath)
	target := a.baseURL + "/" + filename

	return retry.Do(ctx, a.policy, "artifact-upload", apperrors.IsRetryable, func() error {
		f, err := os.Open(archivePath)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryFileSystem, apperrors.SeverityError, "open archive")
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryFileSystem, apperrors.SeverityError, "stat archive")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryUpload, apperrors.SeverityError, "build upload request")
		}
		req.ContentLength = info.Size()
		req.Header.Set("Authorization", "Bearer "+a.token)
		req.Header.Set("Content-Type", "application/gzip")
		req.Header.Set("X-Checksum-Sha256", sha256Hex)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return apperrors.WrapRetryable(err, apperrors.CategoryNetwork, apperrors.SeverityError, "artifact upload request")
		}
		defer resp.Body.Close()

		return classifyUploadStatus(resp, apperrors.CategoryUpload, "artifact upload")
	})
}

// classifyUploadStatus maps an HTTP response status to success, a retryable
// error, or a permanent error carrying the first line of the body.
func classifyUploadStatus(resp *http.Response, category apperrors.ErrorCategory, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.Retryable(category, apperrors.SeverityError,
			fmt.Sprintf("%s: server returned %s", op, resp.Status))
	default:
		detail := firstBodyLine(resp)
		msg := fmt.Sprintf("%s rejected: %s", op, resp.Status)
		if detail != "" {
			msg += ": " + detail
		}
		return apperrors.New(category, apperrors.SeverityError, msg)
	}
}

func firstBodyLine(resp *http.Response) string {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), 4096)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line
		}
	}
	return ""
}
