// Package report exports triage summaries for supervisors who live in
// spreadsheets.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

// Source lists the requests the report covers.
type Source interface {
	ListRequests(ctx context.Context, since time.Time) ([]model.ServiceRequest, error)
}

// Writer builds XLSX triage summary workbooks.
type Writer struct {
	src    Source
	logger *zap.Logger
}

func NewWriter(src Source, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.L()
	}
	return &Writer{src: src, logger: logger}
}

var requestHeader = []string{
	"ID", "Created", "Category", "Address", "Status", "Priority",
	"Flagged", "Flag Reason", "Triage Source", "Recommended Response", "Summary",
}

// Write builds a workbook covering requests created since the given time and
// saves it to path. Two sheets: every request, and a per-category rollup.
func (w *Writer) Write(ctx context.Context, since time.Time, path string) (int, error) {
	requests, err := w.src.ListRequests(ctx, since)
	if err != nil {
		return 0, err
	}

	f := xlsx.NewFile()

	if err := w.addRequestsSheet(f, requests); err != nil {
		return 0, err
	}
	if err := w.addCategorySheet(f, requests); err != nil {
		return 0, err
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "report: save workbook %s", path)
	}

	w.logger.Info("triage report written",
		zap.String("path", path),
		zap.Int("requests", len(requests)),
		zap.Time("since", since),
	)
	return len(requests), nil
}

func (w *Writer) addRequestsSheet(f *xlsx.File, requests []model.ServiceRequest) error {
	sheet, err := f.AddSheet("Requests")
	if err != nil {
		return eris.Wrap(err, "report: add requests sheet")
	}

	header := sheet.AddRow()
	for _, name := range requestHeader {
		header.AddCell().SetString(name)
	}

	for i := range requests {
		req := &requests[i]
		row := sheet.AddRow()
		row.AddCell().SetString(req.ID)
		row.AddCell().SetString(req.CreatedAt.UTC().Format("2006-01-02 15:04"))
		row.AddCell().SetString(req.Category)
		row.AddCell().SetString(req.Address)
		row.AddCell().SetString(string(req.Status))
		row.AddCell().SetInt(req.Priority)
		row.AddCell().SetString(yesNo(req.Flagged))
		row.AddCell().SetString(req.FlagReason)
		row.AddCell().SetString(triageSource(req))
		row.AddCell().SetString(recommendedResponse(req))
		row.AddCell().SetString(summary(req))
	}
	return nil
}

func (w *Writer) addCategorySheet(f *xlsx.File, requests []model.ServiceRequest) error {
	sheet, err := f.AddSheet("By Category")
	if err != nil {
		return eris.Wrap(err, "report: add category sheet")
	}

	header := sheet.AddRow()
	for _, name := range []string{"Category", "Requests", "Open", "Flagged", "Avg Priority"} {
		header.AddCell().SetString(name)
	}

	type rollup struct {
		total, open, flagged int
		prioritySum          int
	}
	byCategory := make(map[string]*rollup)
	for i := range requests {
		req := &requests[i]
		r := byCategory[req.Category]
		if r == nil {
			r = &rollup{}
			byCategory[req.Category] = r
		}
		r.total++
		if req.Open() {
			r.open++
		}
		if req.Flagged {
			r.flagged++
		}
		r.prioritySum += req.Priority
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		r := byCategory[c]
		row := sheet.AddRow()
		row.AddCell().SetString(c)
		row.AddCell().SetInt(r.total)
		row.AddCell().SetInt(r.open)
		row.AddCell().SetInt(r.flagged)
		row.AddCell().SetString(fmt.Sprintf("%.1f", float64(r.prioritySum)/float64(r.total)))
	}
	return nil
}

func triageSource(req *model.ServiceRequest) string {
	if req.Analysis == nil {
		return "pending"
	}
	return string(req.Analysis.Source)
}

func recommendedResponse(req *model.ServiceRequest) string {
	if req.Analysis == nil {
		return ""
	}
	return req.Analysis.RecommendedResponse
}

func summary(req *model.ServiceRequest) string {
	if req.Analysis == nil {
		return ""
	}
	s := req.Analysis.QualitativeSummary
	if s == "" {
		s = req.Analysis.Justification
	}
	return strings.TrimSpace(s)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
