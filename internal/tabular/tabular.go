package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

// Processor rewrites delimited files cell by cell. Column selection is
// resolved against the header row of each file; unselected cells pass
// through untouched. The header row itself is never rewritten, it defines
// column identity.
type Processor struct {
	rewrite   substitute.Rewriter
	delimiter rune
	columns   []string
	exclude   []string
	stats     *substitute.Stats
	logger    *logger.Logger
}

// New builds a processor around a rewriter chain.
func New(rewrite substitute.Rewriter, cfg config.TabularConfig, stats *substitute.Stats, log *logger.Logger) *Processor {
	delimiter := ','
	if cfg.Delimiter != "" {
		delimiter = rune(cfg.Delimiter[0])
	}
	return &Processor{
		rewrite:   rewrite,
		delimiter: delimiter,
		columns:   cfg.Columns,
		exclude:   cfg.ExcludeColumns,
		stats:     stats,
		logger:    log,
	}
}

// ProcessFile rewrites source into dest. An empty dest rewrites the file
// in place through a staging file, so a failed run never leaves a
// half-written source behind.
func (p *Processor) ProcessFile(ctx context.Context, source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer in.Close()

	inPlace := dest == ""
	var out *os.File
	if inPlace {
		out, err = os.CreateTemp(filepath.Dir(source), ".anonymouus-*")
	} else {
		out, err = os.Create(dest)
	}
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	rows, count, err := p.Process(ctx, in, out)
	if err != nil {
		out.Close()
		if inPlace {
			os.Remove(out.Name())
		}
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if inPlace {
		if err := os.Rename(out.Name(), source); err != nil {
			os.Remove(out.Name())
			return fmt.Errorf("failed to replace %s: %w", source, err)
		}
	}

	if p.stats != nil {
		p.stats.StartUnit()
		p.stats.AddReplacements(count)
		p.stats.AddLines(rows)
		p.stats.FileDone()
	}
	p.logger.Info("Tabular file processed",
		zap.String("path", source),
		zap.Int("rows", rows),
		zap.Int("replacements", count),
	)
	return nil
}

// Process rewrites one delimited stream and reports the number of data
// rows and substitutions. The caller owns both ends of the stream.
func (p *Processor) Process(ctx context.Context, r io.Reader, w io.Writer) (int, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = p.delimiter
	reader.FieldsPerRecord = -1

	writer := csv.NewWriter(w)
	writer.Comma = p.delimiter

	header, err := reader.Read()
	if err == io.EOF {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header: %w", err)
	}
	selected := p.selectColumns(header)
	if err := writer.Write(header); err != nil {
		return 0, 0, fmt.Errorf("failed to write header: %w", err)
	}

	rows, count := 0, 0
	for {
		select {
		case <-ctx.Done():
			return rows, count, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, count, fmt.Errorf("failed to read row %d: %w", rows+2, err)
		}

		for i, cell := range record {
			if !selected(i) {
				continue
			}
			out, n, err := p.rewrite.Apply(cell)
			if err != nil {
				return rows, count, fmt.Errorf("failed to rewrite row %d: %w", rows+2, err)
			}
			record[i] = out
			count += n
		}
		if err := writer.Write(record); err != nil {
			return rows, count, fmt.Errorf("failed to write row %d: %w", rows+2, err)
		}
		rows++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return rows, count, fmt.Errorf("failed to flush output: %w", err)
	}
	return rows, count, nil
}

// selectColumns resolves the configured selection against a header row.
// With no configured columns every cell is selected; excluded columns win
// over selected ones either way.
func (p *Processor) selectColumns(header []string) func(int) bool {
	include := p.resolve(p.columns, header)
	exclude := p.resolve(p.exclude, header)

	return func(i int) bool {
		if exclude[i] {
			return false
		}
		if len(p.columns) == 0 {
			return true
		}
		return include[i]
	}
}

// resolve maps column names or zero-based index strings onto header
// positions. A configured column that matches nothing is logged and
// skipped, the run continues.
func (p *Processor) resolve(selection, header []string) map[int]bool {
	out := make(map[int]bool, len(selection))
	for _, col := range selection {
		if idx := indexOf(header, col); idx >= 0 {
			out[idx] = true
			continue
		}
		if idx, err := strconv.Atoi(col); err == nil && idx >= 0 && idx < len(header) {
			out[idx] = true
			continue
		}
		p.logger.Warn("Configured column not found", zap.String("column", col))
	}
	return out
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
