// Package export rewrites the tabular output (summary and full tables, CSV
// and XLSX) from the complete record set on every call.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/resume"
)

// Config selects formats, location and file base names.
type Config struct {
	Dir         string `mapstructure:"dir"`
	CSV         bool   `mapstructure:"csv"`
	XLSX        bool   `mapstructure:"xlsx"`
	SummaryName string `mapstructure:"summary_name"`
	FullName    string `mapstructure:"full_name"`
	SheetName   string `mapstructure:"sheet_name"`
}

// SummaryHeader is the column order of the summary table.
var SummaryHeader = []string{
	"Company", "Role", "Application Date", "About the Job", "URL", "Job ID", "Page Number", "PDF Filename",
}

// FullHeader extends SummaryHeader with the complete text.
var FullHeader = append(append([]string(nil), SummaryHeader...), "Full Description")

// Writer implements harvest.Exporter.
type Writer struct {
	fs     afero.Fs
	cfg    Config
	logger *zap.Logger
}

var _ harvest.Exporter = (*Writer)(nil)

// New validates cfg. A nil fs uses the OS filesystem.
func New(fs afero.Fs, cfg Config, logger *zap.Logger) (*Writer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		return nil, errors.New("export dir is required")
	}
	if !cfg.CSV && !cfg.XLSX {
		return nil, errors.New("enable at least one export format")
	}
	if cfg.SummaryName == "" {
		cfg.SummaryName = "applications_2025_2026"
	}
	if cfg.FullName == "" {
		cfg.FullName = "applications_full_descriptions"
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Applications"
	}
	return &Writer{fs: fs, cfg: cfg, logger: logger.Named("export")}, nil
}

// Paths lists every file WriteTable produces.
func (w *Writer) Paths() []string {
	var out []string
	for _, base := range []string{w.cfg.SummaryName, w.cfg.FullName} {
		if w.cfg.CSV {
			out = append(out, filepath.Join(w.cfg.Dir, base+".csv"))
		}
		if w.cfg.XLSX {
			out = append(out, filepath.Join(w.cfg.Dir, base+".xlsx"))
		}
	}
	return out
}

// WriteTable overwrites every configured table with records.
func (w *Writer) WriteTable(ctx context.Context, records []harvest.DetailRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.fs.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	summary := rows(records, false)
	full := rows(records, true)

	var errs []error
	for _, t := range []struct {
		base   string
		header []string
		rows   [][]string
	}{
		{w.cfg.SummaryName, SummaryHeader, summary},
		{w.cfg.FullName, FullHeader, full},
	} {
		if w.cfg.CSV {
			errs = append(errs, w.write(t.base+".csv", func() ([]byte, error) { return encodeCSV(t.header, t.rows) }))
		}
		if w.cfg.XLSX {
			errs = append(errs, w.write(t.base+".xlsx", func() ([]byte, error) {
				return encodeXLSX(w.cfg.SheetName, t.header, t.rows)
			}))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	w.logger.Info("tables exported", zap.Int("records", len(records)), zap.String("dir", w.cfg.Dir))
	return nil
}

func (w *Writer) write(name string, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := resume.WriteFileAtomic(w.fs, filepath.Join(w.cfg.Dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func rows(records []harvest.DetailRecord, full bool) [][]string {
	out := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{
			r.Group,
			r.Title,
			r.OccurredDate(),
			r.Summary,
			r.SourceURL,
			r.StableID,
			strconv.Itoa(r.PageIndex),
			artifactName(r),
		}
		if full {
			row = append(row, r.FullText)
		}
		out = append(out, row)
	}
	return out
}

// artifactName is the month folder plus file name, relative to the artifact
// store. Records journaled without a path fall back to the last two
// segments of the ref.
func artifactName(r harvest.DetailRecord) string {
	if r.ArtifactPath != "" {
		return r.ArtifactPath
	}
	if r.ArtifactRef == "" {
		return ""
	}
	ref := filepath.ToSlash(r.ArtifactRef)
	if i := strings.LastIndex(ref, "/"); i > 0 {
		if j := strings.LastIndex(ref[:i], "/"); j >= 0 {
			return ref[j+1:]
		}
	}
	return ref
}

func encodeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeXLSX(sheet string, header []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}
