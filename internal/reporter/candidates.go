package reporter

import (
	"bytes"
	"encoding/json"
	"io"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// ReadCandidates decodes the candidates of a JSON report, or a bare JSON
// array of candidates. A report without a candidates list is an error.
func ReadCandidates(r io.Reader) ([]models.MatchCandidate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidFormat, "failed to read candidates")
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "candidates", nil, nil).
			WithSuggestion("the input is empty; write it with `automatch --output-format json`")
	}

	if data[0] == '[' {
		var candidates []models.MatchCandidate
		if err := json.Unmarshal(data, &candidates); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidFormat, "candidates", "JSON array", err)
		}
		return candidates, nil
	}

	var doc struct {
		Candidates *[]models.MatchCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "candidates", "JSON report", err)
	}
	if doc.Candidates == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "candidates", nil, nil).
			WithSuggestion("re-run automatch with candidates included in the report")
	}

	return *doc.Candidates, nil
}
