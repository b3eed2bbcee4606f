package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/session"
)

type previewFlags struct {
	language string
	mappings []string
	status   string
	limit    int
}

func newPreviewCmd() *cobra.Command {
	var f previewFlags
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Detect the mapping of a CSV or XLSX file and validate its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.language, "language", "", "language hint (BCP 47), skips detection")
	cmd.Flags().StringArrayVar(&f.mappings, "map", nil, `override a column mapping, "Header=field" (empty field unmaps)`)
	cmd.Flags().StringVar(&f.status, "status", "", "only list rows with this status")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "maximum rows to list")
	return cmd
}

func runPreview(ctx context.Context, out io.Writer, path string, f previewFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var status importer.Status
	if f.status != "" {
		st, ok := importer.ParseStatus(f.status)
		if !ok {
			return fmt.Errorf("unknown status %q", f.status)
		}
		status = st
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	p := session.NewPipeline(session.PipelineOptions{})
	s, err := p.Upload(ctx, session.New("importctl"), data, filepath.Base(path))
	if err != nil {
		return err
	}
	if s, err = p.Analyze(ctx, s, f.language); err != nil {
		return err
	}
	for _, m := range f.mappings {
		header, field, ok := strings.Cut(m, "=")
		if !ok {
			return fmt.Errorf("invalid --map %q, want Header=field", m)
		}
		var target *datanorm.Field
		if field != "" {
			fld := datanorm.Field(field)
			target = &fld
		}
		if s, err = s.SetMapping(header, target); err != nil {
			return err
		}
	}

	printMapping(out, s)
	if s, err = p.Preview(ctx, s); err != nil {
		return err
	}
	printSummary(out, s.Preview)
	printRows(out, s.Preview.Filter(status), f.limit)
	return nil
}

func printMapping(out io.Writer, s session.Session) {
	if s.Detection != nil && s.Detection.IsTemplate {
		fmt.Fprintln(out, color.GreenString("Template detected (%d%%): %s", s.Detection.Confidence, s.Detection.Reason))
	}
	lang := datanorm.LangEnglish
	if s.Prediction != nil {
		lang = s.Prediction.Language
	}
	fmt.Fprintf(out, "Language: %s\n\n", lang)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Column", "Field", "Confidence", "Reason"})
	if s.Prediction != nil {
		for _, p := range s.Prediction.Predictions {
			field := "-"
			if f, ok := s.Mapping[p.SourceColumn]; ok {
				field = string(f)
			}
			table.Append([]string{p.SourceColumn, field, strconv.FormatFloat(p.Confidence, 'f', 2, 64), p.Reasoning})
		}
	}
	table.Render()
}

func printSummary(out io.Writer, p *importer.Preview) {
	fmt.Fprintln(out)
	if p.IsLargeDataset {
		color.New(color.FgYellow).Fprintf(out, "Large file: showing %d of %d rows\n", p.PreviewRows, p.TotalRows)
	}
	fmt.Fprintf(out, "%s  %s  %s  %s  selected %d\n",
		color.GreenString("valid %d", p.ValidRows),
		color.RedString("invalid %d", p.InvalidRows),
		color.YellowString("duplicate %d", p.DuplicateRows),
		color.HiBlackString("empty %d", p.EmptyRows),
		len(p.Selected()))
}

func printRows(out io.Writer, rows []importer.Row, limit int) {
	if len(rows) == 0 {
		return
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Row", "Status", "Name", "Email", "Notes"})
	table.SetAutoWrapText(false)
	for _, r := range rows {
		name := r.Data[datanorm.FieldFullName]
		if name == "" {
			name = r.Data[datanorm.FieldCompanyName]
		}
		notes := append(append([]string(nil), r.Errors...), r.Warnings...)
		table.Append([]string{
			strconv.Itoa(r.OriginalIndex + 1),
			string(r.Status),
			name,
			r.Data[datanorm.FieldEmail],
			strings.Join(notes, "; "),
		})
	}
	fmt.Fprintln(out)
	table.Render()
}
