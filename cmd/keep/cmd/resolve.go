package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hughpyle/keep/internal/fetchguard"
	"github.com/hughpyle/keep/pkg/version"
)

const fetchTimeout = 30 * time.Second

// resolveContent returns literal content verbatim, or fetches uri
// through fetchguard when content is empty — file:// URIs are
// contained to the user's home directory, http(s) URLs are checked
// against private/cloud-metadata addresses and redirects re-validated
// per hop (spec §6 "put" and the fetch-guard supplemented feature).
func resolveContent(ctx context.Context, content, uri string) (string, error) {
	if content != "" || uri == "" {
		return content, nil
	}

	if path, err := fetchguard.CheckFileURI(uri); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", uri, err)
		}
		return string(data), nil
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := fetchguard.Fetch(ctx, client, uri, "keep/"+version.Short())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", uri, err)
	}
	return string(body), nil
}
