package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func unpackZip(src, dir string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if skipEntry(entry.Name) {
			continue
		}
		dest, err := securePath(dir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dest, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dest, err)
		}
		if err := extractZipEntry(entry, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return out.Close()
}

func packZip(dst, dir string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", dst, err)
	}
	w := zip.NewWriter(out)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			_, err := w.Create(name + "/")
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		fw, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, file)
		file.Close()
		return err
	})
	if err != nil {
		w.Close()
		out.Close()
		return fmt.Errorf("failed to pack %s: %w", dst, err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize archive %s: %w", dst, err)
	}
	return out.Close()
}
