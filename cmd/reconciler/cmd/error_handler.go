package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

// maxListedErrors caps how many errors of a multi-scope failure are printed
const maxListedErrors = 10

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	// one error per failed scope
	if errs := multierr.Errors(err); len(errs) > 1 {
		return h.handleMultipleErrors(errs)
	}

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleMultipleErrors(errs []error) int {
	var reconcilerErrs []*errors.ReconcilerError
	for _, err := range errs {
		if rerr, ok := errors.AsReconcilerError(err); ok {
			reconcilerErrs = append(reconcilerErrs, rerr)
		}
	}

	fmt.Fprintln(h.out, FormatErrors(errs))

	if len(reconcilerErrs) < len(errs) {
		return 1
	}
	summary := errors.NewErrorSummary(reconcilerErrs)
	if len(summary.ByCategory) == 1 {
		fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(reconcilerErrs[0].Category))
	}
	return summary.GetExitCode()
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 && h.verbose {
		fmt.Fprintf(h.out, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(h.out, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if err.Cause != nil {
		fmt.Fprintf(h.out, "\nCause: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles errors that carry no category, such as flag errors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 1
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check file permissions for the database and output files\n")
		return 1
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 1
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Dates use YYYY-MM-DD and amounts are plain decimals
• Candidate files must come from 'reconciler automatch --output-format json'`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Tolerances must not be negative; percentages and the confidence threshold are 0-100
• Group sizes (max-one-to-many, max-many-to-one) must be at least 2
• Check the YAML given with --config and RECONCILER_* environment variables`

	case errors.CategoryPersistence:
		return `Persistence error help:
• Check that the --database path exists and is writable
• Run 'reconciler migrate' to create or upgrade the schema
• Nothing was written by a failed apply; it is safe to retry`

	case errors.CategoryMatching:
		return `Matching error help:
• Apply candidates as produced by automatch, keeping groups whole
• Re-run automatch if records were matched since the proposals were made
• Use 'reconciler groups check --repair' for half-applied groups`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help
• Run with --verbose for debug logging`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return stderrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "database or disk is full")
}

// FormatErrors formats several errors as a numbered list
func FormatErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}

	if len(errs) == 1 {
		return fmt.Sprintf("Error: %v", errs[0])
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d errors:", len(errs)))

	for i, err := range errs {
		if i == maxListedErrors {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-maxListedErrors))
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
	}

	return strings.Join(lines, "\n")
}
