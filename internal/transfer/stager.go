// Package transfer implements the FileStager, Throttler, and
// TransferCoordinator components of the file-sharing protocol.
package transfer

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StagedTransfer describes a prepared outgoing file transfer.
type StagedTransfer struct {
	IsZip      bool
	TargetPath string
	Name       string
	Size       int64
}

// PrepareTransfer materializes paths into a single sendable file: if paths
// is exactly one regular file it is used as-is; otherwise everything is
// packed into a DEFLATE zip at stagingPath.
func PrepareTransfer(paths []string, stagingPath string) (StagedTransfer, error) {
	if len(paths) == 0 {
		return StagedTransfer{}, errors.New("transfer: no files selected")
	}

	if len(paths) == 1 {
		info, err := os.Stat(paths[0])
		if err == nil && info.Mode().IsRegular() {
			return StagedTransfer{
				IsZip:      false,
				TargetPath: paths[0],
				Name:       filepath.Base(paths[0]),
				Size:       info.Size(),
			}, nil
		}
	}

	if err := zipPaths(paths, stagingPath); err != nil {
		return StagedTransfer{}, err
	}
	info, err := os.Stat(stagingPath)
	if err != nil {
		return StagedTransfer{}, fmt.Errorf("transfer: stat staged archive: %w", err)
	}

	return StagedTransfer{
		IsZip:      true,
		TargetPath: stagingPath,
		Name:       "Archive.zip",
		Size:       info.Size(),
	}, nil
}

func zipPaths(paths []string, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("transfer: create staging archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("transfer: stat %s: %w", path, err)
		}

		if info.Mode().IsRegular() {
			if err := addFileToZip(zw, path, filepath.Base(path)); err != nil {
				return err
			}
			continue
		}

		if info.IsDir() {
			baseDir := filepath.Base(filepath.Clean(path))
			err := filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if fi.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(path, p)
				if err != nil {
					return err
				}
				arcname := filepath.ToSlash(filepath.Join(baseDir, rel))
				return addFileToZip(zw, p, arcname)
			})
			if err != nil {
				return fmt.Errorf("transfer: walk %s: %w", path, err)
			}
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, sourcePath, arcname string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("transfer: open %s: %w", sourcePath, err)
	}
	defer f.Close()

	w, err := zw.Create(arcname)
	if err != nil {
		return fmt.Errorf("transfer: zip entry %s: %w", arcname, err)
	}
	_, err = io.Copy(w, f)
	return err
}

// SHA256File streams the file in 1 MiB blocks and returns its hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer: open %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", fmt.Errorf("transfer: hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ErrZipSlip is returned when an archive member would extract outside the
// target directory.
var ErrZipSlip = errors.New("transfer: zip slip detected")

// ExtractZip extracts zipPath into extractDir, refusing any member whose
// cleaned absolute path escapes the cleaned absolute extractDir (the check
// is lexical; symlinks are not resolved), then removes
// the source archive. On a zip-slip detection the archive is left in
// place for inspection and no file is extracted.
func ExtractZip(zipPath, extractDir string) error {
	absExtractDir, err := filepath.Abs(extractDir)
	if err != nil {
		return fmt.Errorf("transfer: resolve extract dir: %w", err)
	}
	absExtractDir = filepath.Clean(absExtractDir)

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("transfer: open archive: %w", err)
	}
	defer r.Close()

	for _, member := range r.File {
		memberPath := filepath.Clean(filepath.Join(absExtractDir, member.Name))
		if memberPath != absExtractDir && !hasPathPrefix(memberPath, absExtractDir) {
			return fmt.Errorf("%w: member %q", ErrZipSlip, member.Name)
		}
	}

	if err := os.MkdirAll(absExtractDir, 0o755); err != nil {
		return fmt.Errorf("transfer: create extract dir: %w", err)
	}

	for _, member := range r.File {
		destPath := filepath.Join(absExtractDir, member.Name)
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		if err := extractZipMember(member, destPath); err != nil {
			return err
		}
	}

	return os.Remove(zipPath)
}

func extractZipMember(member *zip.File, destPath string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("transfer: open zip member %s: %w", member.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, member.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("transfer: create %s: %w", destPath, err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == filepath.Separator
}
