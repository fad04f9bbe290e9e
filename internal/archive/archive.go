package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported repack formats.
const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

// macOSFolder is the resource-fork folder macOS adds when zipping. Its
// contents are metadata, not research data, and are never extracted.
const macOSFolder = "__MACOSX"

// DetectFormat returns the archive format a file name implies, or an
// empty string for non-archives.
func DetectFormat(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"),
		strings.HasSuffix(lower, ".tgz"),
		strings.HasSuffix(lower, ".gzip"),
		strings.HasSuffix(lower, ".gz"):
		return FormatTarGz
	default:
		return ""
	}
}

// Extension returns the canonical file extension for a format.
func Extension(format string) string {
	if format == FormatTarGz {
		return ".tar.gz"
	}
	return ".zip"
}

// BaseName strips the full archive extension, so x.tar.gz becomes x, not
// x.tar.
func BaseName(path string) string {
	lower := strings.ToLower(path)
	for _, suffix := range []string{".tar.gz", ".tgz", ".gzip", ".zip", ".gz"} {
		if strings.HasSuffix(lower, suffix) {
			return path[:len(path)-len(suffix)]
		}
	}
	return path
}

// Unpack extracts an archive into dir, picking the codec from the file
// name.
func Unpack(src, dir string) error {
	switch DetectFormat(src) {
	case FormatZip:
		return unpackZip(src, dir)
	case FormatTarGz:
		return unpackTarGz(src, dir)
	default:
		return fmt.Errorf("unknown archive format for %s", src)
	}
}

// Pack archives the contents of dir into dst. The directory itself is
// not included.
func Pack(dst, dir, format string) error {
	switch format {
	case FormatZip:
		return packZip(dst, dir)
	case FormatTarGz:
		return packTarGz(dst, dir)
	default:
		return fmt.Errorf("unknown archive format %q", format)
	}
}

// skipEntry filters macOS resource-fork folders out of archives.
func skipEntry(name string) bool {
	name = strings.TrimPrefix(name, "./")
	return name == macOSFolder || strings.HasPrefix(name, macOSFolder+"/")
}

// securePath resolves an entry name under dir and rejects names that
// escape it.
func securePath(dir, name string) (string, error) {
	base := filepath.Clean(dir)
	dest := filepath.Join(base, filepath.FromSlash(name))
	if dest != base && !strings.HasPrefix(dest, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the target directory", name)
	}
	return dest, nil
}
