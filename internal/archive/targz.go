package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

func unpackTarGz(src, dir string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive %s: %w", src, err)
		}
		if skipEntry(header.Name) {
			continue
		}
		dest, err := securePath(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", dest, err)
			}
			if err := extractTarEntry(tr, header, dest); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarEntry(tr *tar.Reader, header *tar.Header, dest string) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", header.Name, err)
	}
	return out.Close()
}

func packTarGz(dst, dir string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", dst, err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, file)
		file.Close()
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		out.Close()
		return fmt.Errorf("failed to pack %s: %w", dst, err)
	}
	if err := tw.Close(); err != nil {
		gz.Close()
		out.Close()
		return fmt.Errorf("failed to finalize archive %s: %w", dst, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize archive %s: %w", dst, err)
	}
	return out.Close()
}
