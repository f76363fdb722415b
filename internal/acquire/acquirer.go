package acquire

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/logging"
)

// Options configures an Acquirer.
type Options struct {
	APIBase   string
	ProductID string
	// CacheDir holds archives and extracted files; empty means os.TempDir().
	CacheDir    string
	HTTPTimeout time.Duration
}

// Acquirer ensures a verified, extracted copy of a dataset version exists
// locally.
type Acquirer struct {
	client    *Client
	downloads *http.Client
	productID string
	cacheDir  string
}

// New returns an Acquirer. Archive downloads are bounded only by the
// caller's context.
func New(opts Options) *Acquirer {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	return &Acquirer{
		client:    NewClient(opts.APIBase, opts.HTTPTimeout),
		downloads: &http.Client{},
		productID: opts.ProductID,
		cacheDir:  cacheDir,
	}
}

// Archive is an extracted dataset version on disk.
type Archive struct {
	Root    string
	DataDir string
	DocDir  string
	// Cached is true when the archive already on disk matched the published md5.
	Cached bool
}

// Result is what Fetch hands to the registry.
type Result struct {
	DataDir      string   `json:"dataDir"`
	FileNames    []string `json:"fileNames"`
	HeaderSchema []string `json:"headerSchema"`
	Cached       bool     `json:"cached"`
}

// ResolveVersion returns the version currently published upstream.
func (a *Acquirer) ResolveVersion(ctx context.Context) (string, error) {
	return a.client.Version(ctx, a.productID)
}

// VersionDir is the cache directory for one version.
func (a *Acquirer) VersionDir(version string) string {
	return filepath.Join(a.cacheDir, "os", a.productID, version)
}

// Acquire downloads (or reuses) and extracts the archive for version.
func (a *Acquirer) Acquire(ctx context.Context, version string) (Archive, error) {
	const op = "acquire.archive"
	logger := logging.WithFields(ctx, "stage", "fetch", "version", version)

	info, err := a.client.CSVDownload(ctx, a.productID, version)
	if err != nil {
		return Archive{}, err
	}

	fileName := filepath.Base(info.FileName)
	archivePath := filepath.Join(a.VersionDir(version), fileName)

	cached := matchesMD5(archivePath, info.MD5)
	if cached {
		logger.Info("reusing cached archive", "path", archivePath)
	} else {
		logger.Info("downloading archive", "url", info.URL, "path", archivePath, "size", info.Size)
		sum, err := download(ctx, a.downloads, info.URL, archivePath)
		if err != nil {
			return Archive{}, err
		}
		if !strings.EqualFold(sum, info.MD5) {
			return Archive{}, core.Errorf(core.KindIntegrity, op, "%s: md5 %s does not match published %s", fileName, sum, info.MD5)
		}
	}

	root := extractTarget(archivePath)
	if err := Extract(archivePath, root); err != nil {
		return Archive{}, err
	}

	dataDir, err := findDir(root, "data")
	if err != nil {
		return Archive{}, err
	}
	docDir, err := findDir(root, "doc", "docs")
	if err != nil {
		return Archive{}, err
	}

	logger.Info("archive ready", "root", root, "cached", cached)
	return Archive{Root: root, DataDir: dataDir, DocDir: docDir, Cached: cached}, nil
}

// Fetch acquires version and enumerates its input files and header schema.
func (a *Acquirer) Fetch(ctx context.Context, version string) (Result, error) {
	archive, err := a.Acquire(ctx, version)
	if err != nil {
		return Result{}, err
	}
	fileNames, err := ListInputFiles(archive.DataDir)
	if err != nil {
		return Result{}, err
	}
	headers, err := ReadHeaderSchema(archive.DocDir)
	if err != nil {
		return Result{}, err
	}
	return Result{
		DataDir:      archive.DataDir,
		FileNames:    fileNames,
		HeaderSchema: headers,
		Cached:       archive.Cached,
	}, nil
}

// extractTarget drops the .zip extension; other names get a suffix so the
// directory never collides with the archive itself.
func extractTarget(archivePath string) string {
	if ext := filepath.Ext(archivePath); strings.EqualFold(ext, ".zip") {
		return strings.TrimSuffix(archivePath, ext)
	}
	return archivePath + "_extracted"
}
