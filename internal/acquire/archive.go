package acquire

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/opennames/internal/core"
)

// fileMD5 returns the hex md5 of the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// matchesMD5 reports whether the file at path exists and has the given
// checksum. Case is ignored.
func matchesMD5(path, want string) bool {
	got, err := fileMD5(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, want)
}

// download streams rawURL to dest through a temporary file and returns the
// md5 of the bytes written.
func download(ctx context.Context, client *http.Client, rawURL, dest string) (string, error) {
	const op = "acquire.download"

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", core.E(core.KindIO, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", core.E(core.KindUpstream, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", core.E(core.KindUpstream, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", core.Errorf(core.KindUpstream, op, "GET %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return "", core.E(core.KindIO, op, err)
	}
	defer os.Remove(tmp.Name())

	h := md5.New()
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, h)); err != nil {
		tmp.Close()
		return "", core.E(core.KindUpstream, op, fmt.Errorf("copy %s: %w", rawURL, err))
	}
	if err := tmp.Close(); err != nil {
		return "", core.E(core.KindIO, op, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", core.E(core.KindIO, op, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Extract unpacks the zip archive into dest. Entries that would land
// outside dest are rejected.
func Extract(archive, dest string) error {
	const op = "acquire.extract"

	r, err := zip.OpenReader(archive)
	if err != nil {
		if r != nil {
			r.Close()
		}
		return core.E(core.KindExtraction, op, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return core.E(core.KindIO, op, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return core.E(core.KindIO, op, err)
	}

	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return core.Errorf(core.KindExtraction, op, "entry %q escapes the target directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return core.E(core.KindIO, op, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return core.E(core.KindExtraction, op, fmt.Errorf("%s: %w", f.Name, err))
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// findDir returns the first directory under root (or one level below it)
// whose name equals one of names, ignoring case.
func findDir(root string, names ...string) (string, error) {
	const op = "acquire.find_dir"

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", core.E(core.KindIO, op, err)
	}

	if dir, ok := matchDir(root, entries, names); ok {
		return dir, nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(root, e.Name())
		children, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		if dir, ok := matchDir(sub, children, names); ok {
			return dir, nil
		}
	}
	return "", core.Errorf(core.KindNotFound, op, "no %s folder in %s", strings.Join(names, "|"), root)
}

func matchDir(parent string, entries []os.DirEntry, names []string) (string, bool) {
	for _, name := range names {
		for _, e := range entries {
			if e.IsDir() && strings.EqualFold(e.Name(), name) {
				return filepath.Join(parent, e.Name()), true
			}
		}
	}
	return "", false
}
