// Package filex stages uploaded files on local disk before they are handed
// to the media store.
package filex

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureSubdDir creates dirName under the working directory (if needed)
// and returns its absolute path.
func EnsureSubdDir(dirName string) (string, error) {
	if filepath.IsAbs(dirName) {
		if err := os.MkdirAll(dirName, 0o770); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dirName, err)
		}
		return dirName, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// StageUpload copies the multipart file into dir under a random name that
// keeps the original extension, and returns the local path.
func StageUpload(dir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(filepath.Base(fh.Filename)))
	path := filepath.Join(dir, uuid.NewString()+ext)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	return path, nil
}

// RemoveQuietly deletes the given files, ignoring empty paths and files
// that are already gone.
func RemoveQuietly(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
