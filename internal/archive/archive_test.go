package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func makeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	files := map[string]string{
		"a.txt":     "hello from a\n",
		"sub/b.txt": "hello from b\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
	}
	return dir
}

func assertTree(t *testing.T, dir string) {
	t.Helper()
	checks := map[string]string{
		"a.txt":     "hello from a\n",
		"sub/b.txt": "hello from b\n",
	}
	for name, want := range checks {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
		if string(data) != want {
			t.Errorf("%s: unexpected content %q", name, data)
		}
	}
}

func TestRoundTrips(t *testing.T) {
	t.Run("zip", func(t *testing.T) {
		src := makeTree(t)
		archivePath := filepath.Join(t.TempDir(), "tree.zip")
		if err := Pack(archivePath, src, FormatZip); err != nil {
			t.Fatalf("pack failed: %v", err)
		}

		dest := t.TempDir()
		if err := Unpack(archivePath, dest); err != nil {
			t.Fatalf("unpack failed: %v", err)
		}
		assertTree(t, dest)
	})

	t.Run("tar.gz", func(t *testing.T) {
		src := makeTree(t)
		archivePath := filepath.Join(t.TempDir(), "tree.tar.gz")
		if err := Pack(archivePath, src, FormatTarGz); err != nil {
			t.Fatalf("pack failed: %v", err)
		}

		dest := t.TempDir()
		if err := Unpack(archivePath, dest); err != nil {
			t.Fatalf("unpack failed: %v", err)
		}
		assertTree(t, dest)
	})

	t.Run("format conversion", func(t *testing.T) {
		src := makeTree(t)
		tarPath := filepath.Join(t.TempDir(), "tree.tgz")
		if err := Pack(tarPath, src, FormatTarGz); err != nil {
			t.Fatalf("pack failed: %v", err)
		}

		unpacked := t.TempDir()
		if err := Unpack(tarPath, unpacked); err != nil {
			t.Fatalf("unpack failed: %v", err)
		}
		zipPath := filepath.Join(t.TempDir(), "tree.zip")
		if err := Pack(zipPath, unpacked, FormatZip); err != nil {
			t.Fatalf("repack failed: %v", err)
		}

		dest := t.TempDir()
		if err := Unpack(zipPath, dest); err != nil {
			t.Fatalf("unpack of repack failed: %v", err)
		}
		assertTree(t, dest)
	})

	t.Run("unknown formats fail", func(t *testing.T) {
		if err := Pack(filepath.Join(t.TempDir(), "x.rar"), t.TempDir(), "rar"); err == nil {
			t.Error("expected error for unknown pack format")
		}
		if err := Unpack(filepath.Join(t.TempDir(), "x.rar"), t.TempDir()); err == nil {
			t.Error("expected error for unknown unpack format")
		}
	})
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crafted.zip")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	w := zip.NewWriter(file)
	for name, content := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to add entry: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
	return path
}

func TestUnpackFiltering(t *testing.T) {
	t.Run("macos folders are dropped", func(t *testing.T) {
		path := writeZip(t, map[string]string{
			"real.txt":             "data\n",
			"__MACOSX/._real.txt":  "resource fork",
			"__MACOSX/sub/._x.txt": "resource fork",
		})

		dest := t.TempDir()
		if err := Unpack(path, dest); err != nil {
			t.Fatalf("unpack failed: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dest, "real.txt")); err != nil {
			t.Errorf("expected real.txt to be extracted: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dest, macOSFolder)); !os.IsNotExist(err) {
			t.Error("resource fork folder was extracted")
		}
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		path := writeZip(t, map[string]string{
			"../evil.txt": "escape\n",
		})

		if err := Unpack(path, t.TempDir()); err == nil {
			t.Error("expected error for escaping entry")
		}
	})
}

func TestNameHelpers(t *testing.T) {
	t.Run("detect format", func(t *testing.T) {
		cases := map[string]string{
			"x.zip":    FormatZip,
			"x.ZIP":    FormatZip,
			"x.tar.gz": FormatTarGz,
			"x.tgz":    FormatTarGz,
			"x.gz":     FormatTarGz,
			"x.gzip":   FormatTarGz,
			"x.txt":    "",
		}
		for name, want := range cases {
			if got := DetectFormat(name); got != want {
				t.Errorf("DetectFormat(%q) = %q, want %q", name, got, want)
			}
		}
	})

	t.Run("base name strips the whole archive extension", func(t *testing.T) {
		cases := map[string]string{
			"data.tar.gz":  "data",
			"data.tgz":     "data",
			"data.zip":     "data",
			"data.gz":      "data",
			"a/b/data.zip": "a/b/data",
			"data.txt":     "data.txt",
		}
		for name, want := range cases {
			if got := BaseName(name); got != want {
				t.Errorf("BaseName(%q) = %q, want %q", name, got, want)
			}
		}
	})

	t.Run("extension", func(t *testing.T) {
		if got := Extension(FormatTarGz); got != ".tar.gz" {
			t.Errorf("unexpected extension %q", got)
		}
		if got := Extension(FormatZip); got != ".zip" {
			t.Errorf("unexpected extension %q", got)
		}
	})
}
