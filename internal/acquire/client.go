// Package acquire fetches a dataset version from the OS Downloads API,
// verifies and extracts the archive, and enumerates its input files.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/opennames/internal/core"
)

// Product is the subset of the product document the pipeline reads.
type Product struct {
	ID           string `json:"id"`
	Version      string `json:"version"`
	DownloadsURL string `json:"downloadsUrl"`
}

// Download is one entry of a product's downloads list.
type Download struct {
	Area     string `json:"area"`
	Format   string `json:"format"`
	FileName string `json:"fileName"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
}

// Client talks to the downloads API. Metadata requests are bounded by the
// client timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Product fetches the product document for productID.
func (c *Client) Product(ctx context.Context, productID string) (Product, error) {
	const op = "acquire.product"

	var p Product
	if err := c.getJSON(ctx, op, c.baseURL+"/products/"+url.PathEscape(productID), &p); err != nil {
		return Product{}, err
	}
	if p.Version == "" {
		return Product{}, core.Errorf(core.KindUpstream, op, "product %q has no version", productID)
	}
	return p, nil
}

// Version returns the version currently published for productID.
func (c *Client) Version(ctx context.Context, productID string) (string, error) {
	p, err := c.Product(ctx, productID)
	if err != nil {
		return "", err
	}
	return p.Version, nil
}

// CSVDownload returns the CSV download of productID at version. A version
// other than the current one is not offered.
func (c *Client) CSVDownload(ctx context.Context, productID, version string) (Download, error) {
	const op = "acquire.download_info"

	p, err := c.Product(ctx, productID)
	if err != nil {
		return Download{}, err
	}
	if p.Version != version {
		return Download{}, core.Errorf(core.KindUpstream, op, "version %s not offered (current %s)", version, p.Version)
	}
	if p.DownloadsURL == "" {
		return Download{}, core.Errorf(core.KindUpstream, op, "product %q has no downloadsUrl", productID)
	}

	var downloads []Download
	if err := c.getJSON(ctx, op, p.DownloadsURL, &downloads); err != nil {
		return Download{}, err
	}
	for _, d := range downloads {
		if d.Format != "CSV" {
			continue
		}
		if d.URL == "" || d.FileName == "" || d.MD5 == "" {
			return Download{}, core.Errorf(core.KindUpstream, op, "CSV download is missing url, fileName or md5")
		}
		return d, nil
	}
	return Download{}, core.Errorf(core.KindUpstream, op, "no CSV download for %s %s", productID, version)
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return core.E(core.KindUpstream, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.E(core.KindUpstream, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.Errorf(core.KindUpstream, op, "GET %s: status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return core.E(core.KindUpstream, op, fmt.Errorf("decode %s: %w", rawURL, err))
	}
	return nil
}
