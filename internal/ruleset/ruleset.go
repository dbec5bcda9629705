// Package ruleset reads and writes matching rules as YAML.
//
// A rule file is either a list of rules or a mapping with a `rules` list:
//
//	rules:
//	  - name: Monthly bank fee
//	    priority: 1
//	    narration_keywords: [fee, charge]
//	    direction: debit
//	    ledger_account_code: "6100"
//	    date_tolerance_days: 2
//
// Amounts are strings so they keep their exact decimal value. Rules without
// an id get a new uuid; rules without an entity take the importing entity.
package ruleset

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// RuleSpec is the file representation of a matching rule
type RuleSpec struct {
	ID            string `yaml:"id,omitempty"`
	EntityID      string `yaml:"entity_id,omitempty"`
	BankAccountID string `yaml:"bank_account_id,omitempty"`
	Name          string `yaml:"name"`
	Priority      int    `yaml:"priority"`
	Active        *bool  `yaml:"active,omitempty"`

	NarrationPattern  string   `yaml:"narration_pattern,omitempty"`
	NarrationKeywords []string `yaml:"narration_keywords,omitempty"`
	ReferencePattern  string   `yaml:"reference_pattern,omitempty"`
	AmountMin         string   `yaml:"amount_min,omitempty"`
	AmountMax         string   `yaml:"amount_max,omitempty"`
	Direction         string   `yaml:"direction,omitempty"`

	LedgerDescriptionPattern string `yaml:"ledger_description_pattern,omitempty"`
	LedgerAccountCode        string `yaml:"ledger_account_code,omitempty"`
	VendorID                 string `yaml:"vendor_id,omitempty"`
	CustomerID               string `yaml:"customer_id,omitempty"`

	DateToleranceDays      int     `yaml:"date_tolerance_days"`
	AmountTolerancePercent float64 `yaml:"amount_tolerance_percent"`
}

// File is the mapping form of a rule file
type File struct {
	Rules []RuleSpec `yaml:"rules"`
}

// Loader converts rule specs into validated rules
type Loader struct {
	entityID string
	newID    func() string
}

// NewLoader creates a loader that assigns entityID to rules without one
func NewLoader(entityID string) *Loader {
	return &Loader{entityID: strings.TrimSpace(entityID), newID: uuid.NewString}
}

// LoadFile reads and converts the rules of a YAML file
func (l *Loader) LoadFile(path string) ([]*models.MatchingRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "rules file", path, err).
			WithSuggestion("check the --file path")
	}
	defer f.Close()

	return l.Load(f)
}

// Load reads and converts the rules of a YAML document.
// Unknown keys are rejected so that typos do not silently widen a rule.
func (l *Loader) Load(r io.Reader) ([]*models.MatchingRule, error) {
	specs, err := decodeSpecs(r)
	if err != nil {
		return nil, err
	}

	rules := make([]*models.MatchingRule, 0, len(specs))
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		rule, err := l.convert(spec)
		if err != nil {
			if rerr, ok := errors.AsReconcilerError(err); ok {
				return nil, rerr.WithContext("rule_index", i)
			}
			return nil, err
		}

		if prev, dup := seen[rule.ID]; dup {
			return nil, errors.ValidationError(errors.CodeInvalidFormat, "id", rule.ID,
				fmt.Errorf("rules %d and %d share an id", prev, i))
		}
		seen[rule.ID] = i
		rules = append(rules, rule)
	}

	return rules, nil
}

func decodeSpecs(r io.Reader) ([]RuleSpec, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "rules file", "YAML", err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	var specs []RuleSpec
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := decodeStrict(doc, &specs); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var file File
		if err := decodeStrict(doc, &file); err != nil {
			return nil, err
		}
		specs = file.Rules
	default:
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "rules file", "expected a list of rules or a 'rules' mapping", nil)
	}

	return specs, nil
}

// decodeStrict decodes a node, rejecting fields that RuleSpec does not know
func decodeStrict(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "rules file", "YAML", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "rules file", "YAML", err)
	}
	return nil
}

func (l *Loader) convert(spec RuleSpec) (*models.MatchingRule, error) {
	rule := &models.MatchingRule{
		ID:                       strings.TrimSpace(spec.ID),
		EntityID:                 strings.TrimSpace(spec.EntityID),
		BankAccountID:            strings.TrimSpace(spec.BankAccountID),
		Name:                     strings.TrimSpace(spec.Name),
		Priority:                 spec.Priority,
		IsActive:                 spec.Active == nil || *spec.Active,
		NarrationPattern:         spec.NarrationPattern,
		NarrationKeywords:        spec.NarrationKeywords,
		ReferencePattern:         spec.ReferencePattern,
		Direction:                models.Direction(strings.ToLower(strings.TrimSpace(spec.Direction))),
		LedgerDescriptionPattern: spec.LedgerDescriptionPattern,
		LedgerAccountCode:        strings.TrimSpace(spec.LedgerAccountCode),
		VendorID:                 strings.TrimSpace(spec.VendorID),
		CustomerID:               strings.TrimSpace(spec.CustomerID),
		DateToleranceDays:        spec.DateToleranceDays,
		AmountTolerancePercent:   spec.AmountTolerancePercent,
	}

	if rule.ID == "" {
		rule.ID = l.newID()
	}
	if rule.EntityID == "" {
		rule.EntityID = l.entityID
	}
	if rule.Direction == "" {
		rule.Direction = models.DirectionAny
	}
	if rule.Name == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "name", spec.Name, nil)
	}

	var err error
	if rule.AmountMin, err = optionalAmount("amount_min", spec.AmountMin); err != nil {
		return nil, err
	}
	if rule.AmountMax, err = optionalAmount("amount_max", spec.AmountMax); err != nil {
		return nil, err
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := matcher.CheckRulePatterns(rule); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "pattern", rule.Name, err).
			WithSuggestion("patterns are Go regular expressions, matched case-insensitively")
	}

	return rule, nil
}

func optionalAmount(field, value string) (*decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := models.ParseDecimalFromString(value)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, field, value, err)
	}
	if d.IsNegative() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, field, value, nil)
	}
	return &d, nil
}

// SpecFromRule converts a stored rule back to its file representation
func SpecFromRule(r *models.MatchingRule) RuleSpec {
	active := r.IsActive
	spec := RuleSpec{
		ID:                       r.ID,
		EntityID:                 r.EntityID,
		BankAccountID:            r.BankAccountID,
		Name:                     r.Name,
		Priority:                 r.Priority,
		Active:                   &active,
		NarrationPattern:         r.NarrationPattern,
		NarrationKeywords:        r.NarrationKeywords,
		ReferencePattern:         r.ReferencePattern,
		Direction:                string(r.Direction),
		LedgerDescriptionPattern: r.LedgerDescriptionPattern,
		LedgerAccountCode:        r.LedgerAccountCode,
		VendorID:                 r.VendorID,
		CustomerID:               r.CustomerID,
		DateToleranceDays:        r.DateToleranceDays,
		AmountTolerancePercent:   r.AmountTolerancePercent,
	}
	if r.AmountMin != nil {
		spec.AmountMin = r.AmountMin.String()
	}
	if r.AmountMax != nil {
		spec.AmountMax = r.AmountMax.String()
	}
	return spec
}

// Write encodes rules as a YAML rule file that Load reads back
func Write(w io.Writer, rules []*models.MatchingRule) error {
	file := File{Rules: make([]RuleSpec, 0, len(rules))}
	for _, r := range rules {
		file.Rules = append(file.Rules, SpecFromRule(r))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	return enc.Close()
}
