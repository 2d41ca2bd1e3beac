package tools

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// Spreadsheet converts the first sheet of a workbook to CSV. .xlsx files
// are read natively; .xls and .ods go through LibreOffice.
type Spreadsheet struct {
	Soffice string
	Runner  *Runner
}

var _ core.SpreadsheetConverter = (*Spreadsheet)(nil)

// ToCSV writes the first sheet of src to dst.
func (s *Spreadsheet) ToCSV(ctx context.Context, src, kind, dst string, log *core.RunLog) error {
	switch kind {
	case ".xlsx":
		return xlsxToCSV(src, dst, log)
	case ".xls", ".ods":
		if s.Soffice == "" {
			return fmt.Errorf("no converter for %s: soffice not configured", kind)
		}
		return s.viaSoffice(ctx, src, dst, log)
	default:
		return fmt.Errorf("unsupported spreadsheet type %q", kind)
	}
}

func xlsxToCSV(src, dst string, log *core.RunLog) (err error) {
	book, err := excelize.OpenFile(src)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return errors.New("no sheets found in workbook")
	}
	if len(sheets) > 1 {
		log.Logf("workbook has %d sheets, importing %q", len(sheets), sheets[0])
	}

	rows, err := book.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(out)
	n := 0
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d: %w", n+1, err)
		}
		if len(cols) == 0 {
			continue
		}
		if err := w.Write(cols); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		n++
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	log.Logf("converted sheet %q (%d rows)", sheets[0], n)
	return nil
}

// viaSoffice runs a headless LibreOffice conversion into a private output
// directory with its own profile, then moves the result to dst.
func (s *Spreadsheet) viaSoffice(ctx context.Context, src, dst string, log *core.RunLog) error {
	outDir, err := os.MkdirTemp(filepath.Dir(dst), "soffice-")
	if err != nil {
		return fmt.Errorf("create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	profile := "file://" + filepath.ToSlash(filepath.Join(outDir, "profile"))
	cmd := Command{Path: s.Soffice, Args: []string{
		"-env:UserInstallation=" + profile,
		"--headless",
		"--convert-to", "csv",
		"--outdir", outDir,
		src,
	}}
	if err := s.Runner.Run(ctx, log, cmd); err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(outDir, stem+".csv")
	if !fileExists(produced) {
		log.AddErr("failed to create csv file")
		return errors.New("failed to create csv file")
	}
	if err := os.Rename(produced, dst); err != nil {
		return fmt.Errorf("move converted csv: %w", err)
	}
	return nil
}
