package probe

import (
	"context"
	"time"

	"dmrelay/internal/catalog"
	"dmrelay/internal/constants"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/models"
	"dmrelay/internal/tracing"
	"dmrelay/internal/transport"

	"github.com/sirupsen/logrus"
)

// FormatProber discovers which send payload shapes the backend currently
// accepts by posting a synthetic message through every scope-eligible send
// candidate. Each trial is a REAL send, so the caller must supply a
// receiver that is safe to message (typically the user's own account).
//
// The prober only reads the catalog; feeding its results back into the
// candidate order is a separate, explicit step.
type FormatProber struct {
	catalog *catalog.Catalog
	exec    *transport.Executor
	logger  *logrus.Logger
}

func NewFormatProber(cat *catalog.Catalog, exec *transport.Executor, logger *logrus.Logger) *FormatProber {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &FormatProber{catalog: cat, exec: exec, logger: logger}
}

// Run trials every eligible send shape and reports which ones worked, in
// catalog priority order. A 2xx whose body does not parse as a message is
// NOT counted as working: a shape the dispatcher cannot use end-to-end is
// not a usable shape.
func (f *FormatProber) Run(ctx context.Context, receiver, content string, role models.Role) (*models.FormatTestReport, error) {
	if receiver == "" {
		return nil, apperrors.NewInvalidArgumentError("receiver", "format discovery sends real messages and needs a receiver")
	}
	if content == "" {
		content = constants.FormatProbeContent
	}

	ctx, span := tracing.StartSpan(ctx, "probe.formats")
	defer span.End()

	report := &models.FormatTestReport{RanAt: time.Now().UTC()}

	for _, cand := range f.catalog.Candidates(models.OpSend, role) {
		var payload interface{}
		if cand.Shape != nil {
			payload = cand.Shape(receiver, content, "")
		}

		attempt, body, err := f.exec.Do(ctx, cand, nil, payload)

		if err == nil {
			if _, parseErr := models.DecodeWireMessage(body); parseErr != nil {
				attempt.Outcome = models.OutcomeHTTPError
				attempt.Error = parseErr.Error()
			}
		}

		report.Tests = append(report.Tests, models.FormatTest{
			DeliveryAttempt:   attempt,
			FormatDescription: cand.Description,
		})
		if attempt.Succeeded() {
			report.SuccessfulFormats = append(report.SuccessfulFormats, cand.Description)
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	f.logger.WithFields(logrus.Fields{
		"trialed": len(report.Tests),
		"working": len(report.SuccessfulFormats),
	}).Info("Format discovery completed")

	return report, nil
}
