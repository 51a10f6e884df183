// Package fetchguard validates document URIs (spec §4.2's "get/pending"
// external-content ingestion) before anything reads them, grounded on
// original_source/keep/providers/documents.py's FileDocumentProvider
// and HttpDocumentProvider: file:// URIs are contained to the caller's
// home directory, and http(s):// URLs are blocked from reaching
// private, loopback, link-local, or cloud-metadata addresses (SSRF).
package fetchguard

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

const maxRedirects = 5

// blockedHostnames are known cloud metadata endpoints that resolve to
// addresses which otherwise look like ordinary public IPs.
var blockedHostnames = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
}

// CheckFileURI resolves a file:// URI or bare path and rejects it if it
// falls outside the user's home directory. Returns the resolved
// absolute path on success.
func CheckFileURI(uri string) (string, error) {
	pathStr := strings.TrimPrefix(uri, "file://")

	abs, err := filepath.Abs(pathStr)
	if err != nil {
		return "", kerrors.IOErr(fmt.Sprintf("resolving path %s", pathStr), err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", kerrors.NotFound(abs)
		}
		return "", kerrors.IOErr(fmt.Sprintf("resolving path %s", abs), err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", kerrors.IOErr("resolving home directory", err)
	}
	home, err = filepath.EvalSymlinks(home)
	if err != nil {
		return "", kerrors.IOErr("resolving home directory", err)
	}

	if !isWithinDir(resolved, home) {
		return "", kerrors.Invalid(fmt.Sprintf("path traversal blocked: %s is outside home directory", resolved), nil)
	}
	return resolved, nil
}

func isWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// IsPrivateHost reports whether hostname names a private, loopback,
// link-local, reserved, unspecified, or multicast address, or a known
// cloud metadata hostname — targets an http(s) fetch must never reach.
func IsPrivateHost(hostname string) bool {
	if hostname == "" {
		return true
	}
	if blockedHostnames[strings.ToLower(hostname)] {
		return true
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return isBlockedIP(ip)
	}

	addrs, err := net.LookupIP(hostname)
	if err != nil {
		// DNS failure: let the fetch itself fail rather than guess.
		return false
	}
	for _, ip := range addrs {
		if isBlockedIP(ip) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}

// CheckURL parses rawURL and rejects it if its host resolves to a
// blocked address.
func CheckURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, kerrors.Invalid(fmt.Sprintf("parsing URL %s", rawURL), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, kerrors.Invalid(fmt.Sprintf("unsupported scheme in %s", rawURL), nil)
	}
	if IsPrivateHost(u.Hostname()) {
		return nil, kerrors.Invalid(fmt.Sprintf("blocked request to private/internal address: %s", rawURL), nil)
	}
	return u, nil
}

// Fetch retrieves an http(s) URL, following up to maxRedirects hops
// with each hop re-validated against CheckURL so a redirect cannot be
// used to smuggle a request to a private address.
func Fetch(ctx context.Context, client *http.Client, rawURL, userAgent string) (*http.Response, error) {
	target := rawURL
	for i := 0; i < maxRedirects; i++ {
		u, err := CheckURL(target)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, kerrors.Invalid("building fetch request", err)
		}
		req.Header.Set("User-Agent", userAgent)

		noRedirectClient := *client
		noRedirectClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}

		resp, err := noRedirectClient.Do(req)
		if err != nil {
			return nil, kerrors.ProviderTransient(fmt.Sprintf("fetching %s", target), err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if loc == "" {
				return nil, kerrors.IOErr(fmt.Sprintf("redirect from %s with no Location header", target), nil)
			}
			next, err := resolveRedirect(u, loc)
			if err != nil {
				return nil, err
			}
			target = next
			continue
		}
		return resp, nil
	}
	return nil, kerrors.IOErr(fmt.Sprintf("too many redirects fetching %s", rawURL), nil)
}

func resolveRedirect(base *url.URL, loc string) (string, error) {
	next, err := base.Parse(loc)
	if err != nil {
		return "", kerrors.Invalid(fmt.Sprintf("parsing redirect target %s", loc), err)
	}
	if next.Scheme != "http" && next.Scheme != "https" {
		return "", kerrors.Invalid(fmt.Sprintf("redirect to unsupported scheme: %s", next.String()), nil)
	}
	return next.String(), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}
