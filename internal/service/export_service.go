package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/export"
	"github.com/noah-isme/portfolio-review-api/pkg/storage"
)

type projectionSource interface {
	Get(ctx context.Context, period, fingerprint string) (*models.Projection, bool, error)
}

type runSource interface {
	LatestRun(ctx context.Context, period string) (*models.ConsolidationRun, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type downloadSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (storage.DownloadClaim, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	projections projectionSource
	runs        runSource
	storage     fileStorage
	csv         renderer
	pdf         renderer
	signer      downloadSigner
	logger      *zap.Logger
	cfg         ExportConfig
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the pkg/export implementations.
func NewExportService(projections projectionSource, runs runSource, store fileStorage, signer downloadSigner, cfg ExportConfig, logger *zap.Logger, csv, pdf renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		projections: projections,
		runs:        runs,
		storage:     store,
		csv:         csv,
		pdf:         pdf,
		signer:      signer,
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate builds the dataset for job, renders it and stores the file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.BuildDataset(ctx, job.Type, job.Params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(reportFilename(job), payload)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Debug("report rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// BuildDataset assembles the tabular content of a report.
func (s *ExportService) BuildDataset(ctx context.Context, reportType models.ReportType, params models.ReportJobParams) (export.Dataset, error) {
	switch reportType {
	case models.ReportTypeProjection, models.ReportTypeCompletion:
		projection, _, err := s.projections.Get(ctx, params.Period, params.Fingerprint)
		if err != nil {
			return export.Dataset{}, err
		}
		if reportType == models.ReportTypeProjection {
			return ProjectionDataset(projection, params.ReviewerID), nil
		}
		return CompletionDataset(projection), nil
	case models.ReportTypeConflicts:
		run, err := s.runs.LatestRun(ctx, params.Period)
		if err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				return export.Dataset{}, appErrors.Clone(appErrors.ErrNotFound, "no consolidation run for period "+params.Period)
			}
			return export.Dataset{}, err
		}
		return ConflictsDataset(run), nil
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", reportType)
	}
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.DownloadClaim, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl regardless of job state.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func reportFilename(job *models.ReportJob) string {
	period := job.Params.Period
	if period == "" {
		period = "unscoped"
	}
	return fmt.Sprintf("reports/%s/%s-%s.%s", period, job.Type, job.ID, job.Params.Format)
}

var projectionHeaders = []string{"Order", "Material", "Reviewer", "Group", "Directorate", "Balance", "Status", "New due date", "Decided by", "Justification"}

// ProjectionDataset lists every projected row, optionally restricted to one
// reviewer.
func ProjectionDataset(projection *models.Projection, reviewerID string) export.Dataset {
	rows := make([]map[string]string, 0, len(projection.Rows))
	for _, row := range projection.Rows {
		if reviewerID != "" && strings.TrimSpace(row.Line.ReviewerID) != reviewerID {
			continue
		}
		due := ""
		if row.NewDueDate != nil {
			due = row.NewDueDate.String()
		}
		key := row.Line.Key()
		rows = append(rows, map[string]string{
			"Order":         key.OrderID,
			"Material":      key.MaterialID,
			"Reviewer":      row.Line.ReviewerID,
			"Group":         row.Line.Group,
			"Directorate":   row.Line.Directorate,
			"Balance":       export.FormatMillions(row.Line.Balance),
			"Status":        string(row.Status),
			"New due date":  due,
			"Decided by":    row.DecidedBy,
			"Justification": row.Justification,
		})
	}
	title := "Portfolio review " + projection.Period
	if reviewerID != "" {
		title += " - " + reviewerID
	}
	return export.Dataset{
		Title:   title,
		Summary: projectionSummary(projection),
		Headers: projectionHeaders,
		Rows:    rows,
	}
}

var completionHeaders = []string{"Scope", "Name", "Total", "Confirmed", "Rescheduled", "Pending", "Completion", "Balance"}

// CompletionDataset lists completion per reviewer and per group followed by
// the overall line.
func CompletionDataset(projection *models.Projection) export.Dataset {
	rows := make([]map[string]string, 0, len(projection.ByReviewer)+len(projection.ByGroup)+1)
	add := func(scope string, summary models.CompletionSummary) {
		rows = append(rows, map[string]string{
			"Scope":       scope,
			"Name":        summary.Name,
			"Total":       strconv.Itoa(summary.Total),
			"Confirmed":   strconv.Itoa(summary.Confirmed),
			"Rescheduled": strconv.Itoa(summary.Rescheduled),
			"Pending":     strconv.Itoa(summary.Pending),
			"Completion":  formatPercent(summary.Percentage),
			"Balance":     export.FormatMillions(summary.Balance),
		})
	}
	for _, summary := range projection.ByReviewer {
		add("reviewer", summary)
	}
	for _, summary := range projection.ByGroup {
		add("group", summary)
	}
	add("overall", projection.Overall)
	return export.Dataset{
		Title:   "Review completion " + projection.Period,
		Summary: projectionSummary(projection),
		Headers: completionHeaders,
		Rows:    rows,
	}
}

var conflictHeaders = []string{"Kind", "Order", "Material", "Kept reviewer", "Kept action", "Kept at", "Dropped reviewer", "Dropped action", "Dropped at", "Batch"}

// ConflictsDataset lists the conflicts and stale references of a run.
func ConflictsDataset(run *models.ConsolidationRun) export.Dataset {
	report := run.Report
	rows := make([]map[string]string, 0, len(report.Conflicts)+len(report.StaleReferences))
	for _, c := range report.Conflicts {
		rows = append(rows, map[string]string{
			"Kind":             "conflict",
			"Order":            c.Key.OrderID,
			"Material":         c.Key.MaterialID,
			"Kept reviewer":    c.Winner.ReviewerID,
			"Kept action":      describeAction(c.Winner),
			"Kept at":          c.Winner.DecidedAt.UTC().Format(time.RFC3339),
			"Dropped reviewer": c.Loser.ReviewerID,
			"Dropped action":   describeAction(c.Loser),
			"Dropped at":       c.Loser.DecidedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, stale := range report.StaleReferences {
		rows = append(rows, map[string]string{
			"Kind":             "stale",
			"Order":            stale.Key.OrderID,
			"Material":         stale.Key.MaterialID,
			"Dropped reviewer": stale.ReviewerID,
			"Batch":            stale.BatchID,
		})
	}
	return export.Dataset{
		Title: "Consolidation conflicts " + run.Period,
		Summary: []string{
			"Run " + run.ID + " at " + run.CreatedAt.UTC().Format(time.RFC3339),
			fmt.Sprintf("Batches %d, applied %d, conflicts %d, stale %d",
				report.Totals.Batches, report.Totals.Applied, report.Totals.Conflicts, report.Totals.Stale),
		},
		Headers: conflictHeaders,
		Rows:    rows,
	}
}

func projectionSummary(projection *models.Projection) []string {
	overall := projection.Overall
	return []string{
		"Snapshot " + projection.Fingerprint,
		fmt.Sprintf("Decided %d of %d (%s)", overall.Confirmed+overall.Rescheduled, overall.Total, formatPercent(overall.Percentage)),
		"Balance " + export.FormatMillions(overall.Balance),
	}
}

func describeAction(record models.RevisionRecord) string {
	if record.NewDueDate != nil {
		return fmt.Sprintf("%s %s", record.Action, record.NewDueDate)
	}
	return string(record.Action)
}

func formatPercent(value float64) string {
	return strings.Replace(strconv.FormatFloat(value, 'f', 1, 64), ".", ",", 1) + "%"
}
