package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	modelDownloadTimeout = 30 * time.Minute
	downloadAttempts     = 3
	userAgent            = "ytaudio"
)

// downloadURLToFile fetches sourceURL into destinationPath atomically. Server errors and
// dropped connections are retried; client errors are not.
func downloadURLToFile(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, modelDownloadTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, downloadAttempts-1), ctx)

	return backoff.Retry(func() error {
		return fetchOnce(ctx, client, destinationPath, sourceURL)
	}, policy)
}

func fetchOnce(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return backoff.Permanent(fmt.Errorf("remove stale temp file: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected HTTP status: %s", resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create temporary file: %w", err))
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return backoff.Permanent(fmt.Errorf("close destination file: %w", closeErr))
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return backoff.Permanent(fmt.Errorf("move downloaded file into place: %w", err))
	}
	return nil
}
