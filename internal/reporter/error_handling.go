package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and safe file output
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// WriteReport writes the report to writer
func (srg *SafeReportGenerator) WriteReport(results []reconciler.ScopeResult, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
		"scopes": len(results),
	}).Debug("Generating report")

	if err := srg.GenerateReport(results, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return srg.wrapGenerationError(err)
	}
	return nil
}

// WriteReportFile writes the report to path, replacing it only once the
// whole report has been written. An empty path writes to stdout.
func (srg *SafeReportGenerator) WriteReportFile(results []reconciler.ScopeResult, path string) error {
	if path == "" {
		return srg.WriteReport(results, os.Stdout)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return srg.wrapGenerationError(err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return srg.wrapGenerationError(err)
	}
	tmpPath := tmp.Name()

	if err := srg.WriteReport(results, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return srg.wrapGenerationError(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithField("file", path).Info("Report written")
	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	suggestion := "Check the output destination and report format settings"
	if os.IsPermission(err) {
		suggestion = "The output location is not writable; choose another --output-file"
	}

	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion(suggestion)
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
