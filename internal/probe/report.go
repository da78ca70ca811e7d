package probe

import (
	"context"
	"encoding/json"
	"time"

	"dmrelay/internal/models"
	"dmrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// HistorySource supplies recent delivery attempts for inclusion in a
// diagnostic report. The dispatcher satisfies this.
type HistorySource interface {
	History() []models.DeliveryAttempt
}

// Options controls which sections of a diagnostic run execute.
type Options struct {
	// Receiver for format discovery trials. Empty skips format discovery,
	// since those trials send real messages.
	FormatReceiver string
	// FormatContent overrides the synthetic probe body.
	FormatContent string
	Role          models.Role
}

// Diagnostics runs the full on-demand diagnostic battery and assembles the
// report. The report is ephemeral: render it, export it, or feed it to the
// catalog, but nothing here persists it.
type Diagnostics struct {
	prober  *Prober
	formats *FormatProber
	history HistorySource
	logger  *logrus.Logger
}

func NewDiagnostics(prober *Prober, formats *FormatProber, history HistorySource, logger *logrus.Logger) *Diagnostics {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Diagnostics{
		prober:  prober,
		formats: formats,
		history: history,
		logger:  logger,
	}
}

// Run executes the battery. It always returns a report; sections that fail
// or are skipped are simply absent.
func (d *Diagnostics) Run(ctx context.Context, opts Options) *models.DiagnosticReport {
	ctx, span := tracing.StartSpan(ctx, "probe.diagnostics")
	defer span.End()

	report := &models.DiagnosticReport{}

	report.Connectivity = d.prober.Connectivity(ctx)

	if opts.FormatReceiver != "" && d.formats != nil {
		formatReport, err := d.formats.Run(ctx, opts.FormatReceiver, opts.FormatContent, opts.Role)
		if err != nil {
			d.logger.WithError(err).Warn("Format discovery did not complete")
		}
		if formatReport != nil {
			report.FormatTests = formatReport.Tests
			report.SuccessfulFormats = formatReport.SuccessfulFormats
		}
	}

	if d.history != nil {
		report.History = d.history.History()
	}

	report.Summary = models.DiagnosticSummary{
		BackendReachable: report.Connectivity != nil && report.Connectivity.BackendReachable,
		WorkingFormats:   len(report.SuccessfulFormats),
		GeneratedAt:      time.Now().UTC(),
	}

	return report
}

// ExportJSON renders a report for file export or terminal display.
func ExportJSON(report *models.DiagnosticReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}
