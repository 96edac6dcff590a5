package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
	"github.com/noah-isme/sma-presence-api/pkg/export"
)

// Report formats.
const (
	ReportFormatJSON = "json"
	ReportFormatCSV  = "csv"
	ReportFormatPDF  = "pdf"
)

var attendanceHeaders = []string{"subject_id", "score", "token", "location", "network", "radio", "distance_m", "beacons", "submitted_at"}

type submissionLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.SubmissionResult, error)
}

type sessionReader interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ReportService builds attendance reports from accepted submissions.
type ReportService struct {
	sessions    sessionReader
	submissions submissionLister
	csv         csvRenderer
	pdf         pdfRenderer
}

// NewReportService constructs a ReportService.
func NewReportService(sessions sessionReader, submissions submissionLister, csv csvRenderer, pdf pdfRenderer) *ReportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{sessions: sessions, submissions: submissions, csv: csv, pdf: pdf}
}

// Attendance returns the accepted submissions of a session ordered by submission time.
func (s *ReportService) Attendance(ctx context.Context, sessionID string) (*dto.AttendanceReport, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	results, err := s.submissions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SubmittedAt.Before(results[j].SubmittedAt)
	})

	report := &dto.AttendanceReport{
		SessionID: session.ID,
		Status:    string(session.Status),
		Total:     len(results),
		Rows:      make([]dto.AttendanceRow, 0, len(results)),
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
		report.Rows = append(report.Rows, dto.AttendanceRow{
			SubjectID:   r.SubjectID,
			Score:       r.Score,
			Token:       r.Breakdown.Token,
			Location:    r.Breakdown.Location,
			Network:     r.Breakdown.Network,
			Radio:       r.Breakdown.Radio,
			Distance:    r.Distance,
			Beacons:     len(r.RadioMatches),
			SubmittedAt: r.SubmittedAt,
		})
	}
	if report.Total > 0 {
		report.Average = sum / float64(report.Total)
	}
	return report, nil
}

// Export renders the attendance report as csv or pdf and returns the file name and content type.
func (s *ReportService) Export(ctx context.Context, sessionID, format string) (string, string, []byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != ReportFormatCSV && format != ReportFormatPDF {
		return "", "", nil, appErrors.Clone(appErrors.ErrValidation, "format must be json, csv or pdf")
	}
	report, err := s.Attendance(ctx, sessionID)
	if err != nil {
		return "", "", nil, err
	}
	dataset := attendanceDataset(report)
	filename := fmt.Sprintf("attendance-%s.%s", sessionID, format)

	var (
		data        []byte
		contentType string
	)
	switch format {
	case ReportFormatCSV:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv"
	default:
		data, err = s.pdf.Render(dataset, fmt.Sprintf("Attendance %s", sessionID))
		contentType = "application/pdf"
	}
	if err != nil {
		return "", "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return filename, contentType, data, nil
}

func attendanceDataset(report *dto.AttendanceReport) export.Dataset {
	rows := make([]map[string]string, 0, len(report.Rows))
	for _, r := range report.Rows {
		distance := ""
		if r.Distance != nil {
			distance = strconv.FormatFloat(*r.Distance, 'f', 1, 64)
		}
		rows = append(rows, map[string]string{
			"subject_id":   r.SubjectID,
			"score":        formatPoints(r.Score),
			"token":        formatPoints(r.Token),
			"location":     formatPoints(r.Location),
			"network":      formatPoints(r.Network),
			"radio":        formatPoints(r.Radio),
			"distance_m":   distance,
			"beacons":      strconv.Itoa(r.Beacons),
			"submitted_at": r.SubmittedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return export.Dataset{Headers: attendanceHeaders, Rows: rows}
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
