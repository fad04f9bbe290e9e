package walker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/archive"
	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

// Event kinds.
const (
	KindText    = "text"
	KindArchive = "archive"
	KindOther   = "other"
)

// FileEvent describes one processed file.
type FileEvent struct {
	Path         string `json:"path"`
	Kind         string `json:"kind"`
	Replacements int    `json:"replacements"`
}

// Walker applies a rewriter chain to a file tree, either in place or as
// an anonymized copy. File and directory names run through the same
// chain as file contents.
type Walker struct {
	rewrite         substitute.Rewriter
	textExts        map[string]bool
	archiveExts     map[string]bool
	archiveFormat   string
	substituteNames bool
	stats           *substitute.Stats
	logger          *logger.Logger

	// OnFile, when set, receives an event for every processed file.
	OnFile func(FileEvent)
}

// New builds a walker around a rewriter chain.
func New(rewrite substitute.Rewriter, cfg config.WalkerConfig, stats *substitute.Stats, log *logger.Logger) *Walker {
	textExts := make(map[string]bool, len(cfg.TextExtensions))
	for _, ext := range cfg.TextExtensions {
		textExts[strings.ToLower(ext)] = true
	}
	archiveExts := make(map[string]bool, len(cfg.ArchiveExtensions))
	for _, ext := range cfg.ArchiveExtensions {
		archiveExts[strings.ToLower(ext)] = true
	}
	return &Walker{
		rewrite:         rewrite,
		textExts:        textExts,
		archiveExts:     archiveExts,
		archiveFormat:   cfg.ArchiveFormat,
		substituteNames: cfg.SubstituteNames,
		stats:           stats,
		logger:          log,
	}
}

// Run processes source. With an empty target the tree is rewritten in
// place; otherwise an anonymized copy is built under target. The target
// may not live inside the source.
func (w *Walker) Run(ctx context.Context, source, target string) error {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("failed to resolve source path: %w", err)
	}
	if _, err := os.Stat(absSource); err != nil {
		return fmt.Errorf("source path does not exist: %w", err)
	}

	copyMode := target != ""
	targetDir := filepath.Dir(absSource)
	if copyMode {
		absTarget, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("failed to resolve target path: %w", err)
		}
		if rel, err := filepath.Rel(absSource, absTarget); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return fmt.Errorf("target path cannot be inside the source path")
		}
		if info, err := os.Stat(absTarget); err == nil {
			if !info.IsDir() {
				return fmt.Errorf("target path must be a directory")
			}
		} else if err := os.MkdirAll(absTarget, 0o755); err != nil {
			return fmt.Errorf("failed to create target directory: %w", err)
		}
		targetDir = absTarget
	}

	w.logger.Info("Processing tree",
		zap.String("source", absSource),
		zap.Bool("copy", copyMode),
	)

	return w.walk(ctx, absSource, targetDir, copyMode)
}

func (w *Walker) walk(ctx context.Context, source, targetDir string, copyMode bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Lstat(source)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", source, err)
	}
	if !info.IsDir() {
		return w.processFile(ctx, source, targetDir, copyMode)
	}

	source, targetDir, err = w.processDir(source, targetDir, copyMode)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", source, err)
	}
	for _, entry := range entries {
		if err := w.walk(ctx, filepath.Join(source, entry.Name()), targetDir, copyMode); err != nil {
			return err
		}
	}
	return nil
}

// processDir renames or creates the directory and returns the paths the
// children are walked with.
func (w *Walker) processDir(source, targetDir string, copyMode bool) (string, string, error) {
	name, err := w.rewriteName(filepath.Base(source))
	if err != nil {
		return "", "", err
	}
	dest := filepath.Join(targetDir, name)

	if copyMode {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", "", fmt.Errorf("failed to create directory %s: %w", dest, err)
		}
		return source, dest, nil
	}

	if dest != source {
		if err := os.Rename(source, dest); err != nil {
			return "", "", fmt.Errorf("failed to rename directory: %w", err)
		}
		w.logger.Debug("Directory renamed", zap.String("to", dest))
	}
	return dest, dest, nil
}

func (w *Walker) processFile(ctx context.Context, source, targetDir string, copyMode bool) error {
	name, err := w.rewriteName(filepath.Base(source))
	if err != nil {
		return err
	}
	dest := filepath.Join(targetDir, name)
	// A copy that would land on its own source gets a marker suffix
	// instead of overwriting it.
	if copyMode && dest == source {
		dest = copySuffixPath(dest)
	}

	ext := strings.ToLower(filepath.Ext(source))
	switch {
	case w.textExts[ext]:
		return w.processTextFile(source, dest, copyMode)
	case w.archiveExts[ext]:
		return w.processArchive(ctx, source, dest, copyMode)
	default:
		return w.processOtherFile(source, dest, copyMode)
	}
}

func (w *Walker) processTextFile(source, dest string, copyMode bool) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", source, err)
	}

	out, count, err := w.rewrite.Apply(string(data))
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", source, err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(source); err == nil {
		mode = info.Mode().Perm()
	}
	// Write before removing so a failed write never loses the source.
	if err := os.WriteFile(dest, []byte(out), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if !copyMode && dest != source {
		if err := os.Remove(source); err != nil {
			return fmt.Errorf("failed to remove %s: %w", source, err)
		}
	}

	w.note(FileEvent{Path: dest, Kind: KindText, Replacements: count}, countLines(string(data)))
	return nil
}

func (w *Walker) processOtherFile(source, dest string, copyMode bool) error {
	if copyMode {
		if err := copyFile(source, dest); err != nil {
			return err
		}
	} else if dest != source {
		if err := os.Rename(source, dest); err != nil {
			return fmt.Errorf("failed to rename %s: %w", source, err)
		}
	}

	w.note(FileEvent{Path: dest, Kind: KindOther}, 0)
	return nil
}

// processArchive unpacks the archive into a staging directory, rewrites
// the staged tree in place, and packs the result back up. Nested
// archives recurse naturally.
func (w *Walker) processArchive(ctx context.Context, source, dest string, copyMode bool) error {
	tmp, err := os.MkdirTemp("", "anonymouus-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := archive.Unpack(source, tmp); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, entry := range entries {
		if err := w.walk(ctx, filepath.Join(tmp, entry.Name()), tmp, false); err != nil {
			return err
		}
	}

	format := w.archiveFormat
	if format == "" {
		format = archive.DetectFormat(source)
	}
	packed := archive.BaseName(dest) + archive.Extension(format)
	if err := archive.Pack(packed, tmp, format); err != nil {
		return err
	}
	if !copyMode && packed != source {
		if err := os.Remove(source); err != nil {
			return fmt.Errorf("failed to remove %s: %w", source, err)
		}
	}

	w.note(FileEvent{Path: packed, Kind: KindArchive}, 0)
	return nil
}

func (w *Walker) rewriteName(name string) (string, error) {
	if !w.substituteNames {
		return name, nil
	}
	out, _, err := w.rewrite.Apply(name)
	if err != nil {
		return "", fmt.Errorf("failed to rewrite name: %w", err)
	}
	return out, nil
}

func (w *Walker) note(event FileEvent, lines int) {
	if w.stats != nil {
		w.stats.StartUnit()
		w.stats.AddReplacements(event.Replacements)
		w.stats.AddLines(lines)
		w.stats.FileDone()
	}
	if w.OnFile != nil {
		w.OnFile(event)
	}
	w.logger.Debug("File processed",
		zap.String("path", event.Path),
		zap.String("kind", event.Kind),
		zap.Int("replacements", event.Replacements),
	)
}

// copySuffixPath marks a copy that would otherwise overwrite its source.
func copySuffixPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".copy" + ext
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if info, err := in.Stat(); err == nil {
		mode = info.Mode().Perm()
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", source, err)
	}
	return out.Close()
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
