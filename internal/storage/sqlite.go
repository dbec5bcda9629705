package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// SQLiteStore provides SQLite database access for the reconciler.
// It implements the Repository interface.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Repository
var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and applies pending migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "open database", err).
			WithContext("path", path)
	}

	s := &SQLiteStore{db: db}
	if _, err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending migrations and returns the schema version
func (s *SQLiteStore) Migrate() (uint, error) {
	version, err := runMigrations(s.db)
	if err != nil {
		return version, errors.PersistenceError(errors.CodeStoreUnavailable, "migrate schema", err)
	}
	return version, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const bankLineColumns = `id, bank_account_id, entity_id, transaction_date, debit, credit, narration, reference,
	is_matched, match_type, match_group_id, confidence_score, confidence_level, matching_rule_id, matched_by, matched_at`

const ledgerEntryColumns = `id, entity_id, entry_date, amount, description, reference,
	vendor_id, customer_id, account_code, category, entry_type`

const ruleColumns = `id, entity_id, bank_account_id, name, priority, is_active, narration_pattern, narration_keywords,
	reference_pattern, amount_min, amount_max, direction, ledger_description_pattern, ledger_account_code,
	vendor_id, customer_id, date_tolerance_days, amount_tolerance_percent, times_used, times_succeeded, last_used_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// UnmatchedBankLines returns the unmatched bank lines of the scope's account and period
func (s *SQLiteStore) UnmatchedBankLines(ctx context.Context, scope models.Scope) ([]*models.BankLine, error) {
	query := `SELECT ` + bankLineColumns + `
	FROM bank_lines
	WHERE bank_account_id = ? AND is_matched = 0 AND transaction_date BETWEEN ? AND ?
	ORDER BY transaction_date, id`

	rows, err := s.db.QueryContext(ctx, query, scope.BankAccountID,
		scope.PeriodStart.Format(models.DateLayout), scope.PeriodEnd.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query bank lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.BankLine
	for rows.Next() {
		bl, err := scanBankLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, bl)
	}
	return lines, rows.Err()
}

// UnmatchedLedgerEntries returns cash-relevant ledger entries of the scope with no stored match link
func (s *SQLiteStore) UnmatchedLedgerEntries(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error) {
	categories, entryTypes := models.CashCategories(), models.BankEntryTypes()
	query := `SELECT ` + ledgerEntryColumns + `
	FROM ledger_entries le
	WHERE (le.entity_id = ? OR le.entity_id = '')
	  AND le.entry_date BETWEEN ? AND ?
	  AND (lower(le.category) IN (` + placeholders(len(categories)) + `)
	    OR lower(le.entry_type) IN (` + placeholders(len(entryTypes)) + `))
	  AND NOT EXISTS (SELECT 1 FROM bank_line_matches m WHERE m.ledger_entry_id = le.id)
	ORDER BY le.id`

	args := []interface{}{scope.EntityID,
		scope.PeriodStart.Format(models.DateLayout), scope.PeriodEnd.Format(models.DateLayout)}
	for _, c := range categories {
		args = append(args, c)
	}
	for _, t := range entryTypes {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		le, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, le)
	}
	return entries, rows.Err()
}

// ActiveMatchingRules returns active rules of the entity that are entity-wide or bound to the bank account
func (s *SQLiteStore) ActiveMatchingRules(ctx context.Context, entityID, bankAccountID string) ([]*models.MatchingRule, error) {
	query := `SELECT ` + ruleColumns + `
	FROM matching_rules
	WHERE entity_id = ? AND is_active = 1 AND (bank_account_id = '' OR bank_account_id = ?)
	ORDER BY priority, id`

	return s.queryRules(ctx, query, entityID, bankAccountID)
}

// ListMatchingRules returns every rule of an entity
func (s *SQLiteStore) ListMatchingRules(ctx context.Context, entityID string) ([]*models.MatchingRule, error) {
	query := `SELECT ` + ruleColumns + `
	FROM matching_rules
	WHERE entity_id = ?
	ORDER BY priority, id`

	return s.queryRules(ctx, query, entityID)
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.MatchingRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.MatchingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetBankLine retrieves a bank line with its matched ledger ids
func (s *SQLiteStore) GetBankLine(ctx context.Context, id string) (*models.BankLine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bankLineColumns+` FROM bank_lines WHERE id = ?`, id)
	bl, err := scanBankLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	links, err := loadLinks(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		bl.MatchedLedgerIDs = append(bl.MatchedLedgerIDs, l.ledgerEntryID)
	}
	return bl, nil
}

// SaveBankLines inserts bank lines with the given match state. Existing lines only have
// their statement fields updated.
func (s *SQLiteStore) SaveBankLines(ctx context.Context, lines []*models.BankLine) error {
	query := `INSERT INTO bank_lines (` + bankLineColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		bank_account_id = excluded.bank_account_id,
		entity_id = excluded.entity_id,
		transaction_date = excluded.transaction_date,
		debit = excluded.debit,
		credit = excluded.credit,
		narration = excluded.narration,
		reference = excluded.reference`

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, bl := range lines {
			if err := bl.Validate(); err != nil {
				return err
			}
			var matchedAt interface{}
			if bl.MatchedAt != nil {
				matchedAt = formatTimestamp(*bl.MatchedAt)
			}
			_, err := tx.ExecContext(ctx, query,
				bl.ID, bl.BankAccountID, bl.EntityID, bl.TransactionDate.Format(models.DateLayout),
				bl.Debit.String(), bl.Credit.String(), bl.Narration, bl.Reference,
				bl.Matched, string(bl.MatchType), bl.MatchGroupID, bl.ConfidenceScore, string(bl.ConfidenceLevel),
				bl.MatchingRuleID, bl.MatchedBy, matchedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save bank line %s: %w", bl.ID, err)
			}
		}
		return nil
	})
}

// SaveLedgerEntries inserts or updates ledger entries
func (s *SQLiteStore) SaveLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + ledgerEntryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entity_id = excluded.entity_id,
		entry_date = excluded.entry_date,
		amount = excluded.amount,
		description = excluded.description,
		reference = excluded.reference,
		vendor_id = excluded.vendor_id,
		customer_id = excluded.customer_id,
		account_code = excluded.account_code,
		category = excluded.category,
		entry_type = excluded.entry_type`

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, le := range entries {
			if err := le.Validate(); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, query,
				le.ID, le.EntityID, le.EntryDate.Format(models.DateLayout), le.Amount.String(),
				le.Description, le.Reference, le.VendorID, le.CustomerID, le.AccountCode, le.Category, le.EntryType,
			)
			if err != nil {
				return fmt.Errorf("failed to save ledger entry %s: %w", le.ID, err)
			}
		}
		return nil
	})
}

// SaveMatchingRules inserts or updates rules. Usage counters of existing rules are kept.
func (s *SQLiteStore) SaveMatchingRules(ctx context.Context, rules []*models.MatchingRule) error {
	query := `INSERT INTO matching_rules (` + ruleColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entity_id = excluded.entity_id,
		bank_account_id = excluded.bank_account_id,
		name = excluded.name,
		priority = excluded.priority,
		is_active = excluded.is_active,
		narration_pattern = excluded.narration_pattern,
		narration_keywords = excluded.narration_keywords,
		reference_pattern = excluded.reference_pattern,
		amount_min = excluded.amount_min,
		amount_max = excluded.amount_max,
		direction = excluded.direction,
		ledger_description_pattern = excluded.ledger_description_pattern,
		ledger_account_code = excluded.ledger_account_code,
		vendor_id = excluded.vendor_id,
		customer_id = excluded.customer_id,
		date_tolerance_days = excluded.date_tolerance_days,
		amount_tolerance_percent = excluded.amount_tolerance_percent`

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range rules {
			if err := r.Validate(); err != nil {
				return err
			}
			keywords, err := json.Marshal(r.NarrationKeywords)
			if err != nil {
				return err
			}
			direction := r.Direction
			if direction == "" {
				direction = models.DirectionAny
			}
			var lastUsed interface{}
			if r.LastUsedAt != nil {
				lastUsed = formatTimestamp(*r.LastUsedAt)
			}

			_, err = tx.ExecContext(ctx, query,
				r.ID, r.EntityID, r.BankAccountID, r.Name, r.Priority, r.IsActive,
				r.NarrationPattern, string(keywords), r.ReferencePattern,
				nullableDecimal(r.AmountMin), nullableDecimal(r.AmountMax), string(direction),
				r.LedgerDescriptionPattern, r.LedgerAccountCode, r.VendorID, r.CustomerID,
				r.DateToleranceDays, r.AmountTolerancePercent, r.TimesUsed, r.TimesSucceeded, lastUsed,
			)
			if err != nil {
				return fmt.Errorf("failed to save matching rule %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// ApplyMatches writes candidates in one transaction.
//
// A bank line already matched to the same ledger entries, type and group only
// has matched_at and matched_by refreshed. A bank line or ledger entry already
// matched differently fails the whole apply.
func (s *SQLiteStore) ApplyMatches(ctx context.Context, candidates []models.MatchCandidate, actor string, at time.Time) (ApplyStats, error) {
	var stats ApplyStats
	updates := planUpdates(candidates)
	matchedAt := formatTimestamp(at)

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		groups := make(map[string]bool)
		ruleUses := make(map[string]int)

		for _, u := range updates {
			existing, err := scanBankLine(tx.QueryRowContext(ctx, `SELECT `+bankLineColumns+` FROM bank_lines WHERE id = ?`, u.bankLineID))
			if err == sql.ErrNoRows {
				return errors.PersistenceError(errors.CodeApplyFailed, "apply matches", fmt.Errorf("bank line %s not found", u.bankLineID))
			}
			if err != nil {
				return err
			}

			if existing.Matched {
				links, err := loadLinks(ctx, tx, u.bankLineID)
				if err != nil {
					return err
				}
				var ledgerIDs []string
				for _, l := range links {
					ledgerIDs = append(ledgerIDs, l.ledgerEntryID)
				}
				if existing.MatchType != u.matchType || existing.MatchGroupID != u.groupID || !sameIDs(ledgerIDs, u.ledgerIDs) {
					return errors.PersistenceError(errors.CodeApplyFailed, "apply matches",
						fmt.Errorf("bank line %s is already matched to %s", u.bankLineID, strings.Join(ledgerIDs, ","))).
						WithSuggestion("unmatch the bank line before applying a different match")
				}

				if _, err := tx.ExecContext(ctx, `UPDATE bank_lines SET matched_at = ?, matched_by = ? WHERE id = ?`,
					matchedAt, actor, u.bankLineID); err != nil {
					return fmt.Errorf("failed to refresh bank line %s: %w", u.bankLineID, err)
				}
				stats.Refreshed++
				continue
			}

			for _, ledgerID := range u.ledgerIDs {
				if err := checkLedgerFree(ctx, tx, ledgerID, u); err != nil {
					return err
				}
			}

			_, err = tx.ExecContext(ctx, `UPDATE bank_lines SET
				is_matched = 1, match_type = ?, match_group_id = ?, confidence_score = ?, confidence_level = ?,
				matching_rule_id = ?, matched_by = ?, matched_at = ?
				WHERE id = ?`,
				string(u.matchType), u.groupID, u.confidenceScore, string(u.confidenceLevel),
				u.ruleID, actor, matchedAt, u.bankLineID)
			if err != nil {
				return fmt.Errorf("failed to update bank line %s: %w", u.bankLineID, err)
			}

			for _, ledgerID := range u.ledgerIDs {
				_, err := tx.ExecContext(ctx, `INSERT INTO bank_line_matches (bank_line_id, ledger_entry_id, match_group_id, group_size)
					VALUES (?, ?, ?, ?)`, u.bankLineID, ledgerID, u.groupID, u.groupSize)
				if err != nil {
					return errors.PersistenceError(errors.CodeApplyFailed, "link ledger entry", err).
						WithContext("bank_line_id", u.bankLineID).
						WithContext("ledger_entry_id", ledgerID)
				}
			}

			stats.Applied++
			if u.groupID != "" {
				groups[u.groupID] = true
			}
			if u.ruleID != "" {
				ruleUses[u.ruleID]++
			}
		}

		ruleIDs := make([]string, 0, len(ruleUses))
		for id := range ruleUses {
			ruleIDs = append(ruleIDs, id)
		}
		sort.Strings(ruleIDs)
		for _, id := range ruleIDs {
			res, err := tx.ExecContext(ctx, `UPDATE matching_rules SET
				times_used = times_used + ?, times_succeeded = times_succeeded + ?, last_used_at = ?
				WHERE id = ?`, ruleUses[id], ruleUses[id], matchedAt, id)
			if err != nil {
				return fmt.Errorf("failed to update rule counters for %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				stats.RulesUpdated++
			}
		}

		stats.Groups = len(groups)
		return nil
	})
	if err != nil {
		return ApplyStats{}, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeApplyFailed, "failed to apply matches")
	}
	return stats, nil
}

// checkLedgerFree fails when the ledger entry is linked outside the update's group
func checkLedgerFree(ctx context.Context, tx *sql.Tx, ledgerID string, u *bankLineUpdate) error {
	rows, err := tx.QueryContext(ctx, `SELECT bank_line_id, match_group_id FROM bank_line_matches WHERE ledger_entry_id = ?`, ledgerID)
	if err != nil {
		return fmt.Errorf("failed to query links of %s: %w", ledgerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var bankLineID, groupID string
		if err := rows.Scan(&bankLineID, &groupID); err != nil {
			return err
		}
		if bankLineID == u.bankLineID || (u.groupID != "" && groupID == u.groupID) {
			continue
		}
		return errors.PersistenceError(errors.CodeApplyFailed, "apply matches",
			fmt.Errorf("ledger entry %s is already matched to bank line %s", ledgerID, bankLineID))
	}
	return rows.Err()
}

// UnmatchBankLines clears match fields and links of the given bank lines in one transaction
func (s *SQLiteStore) UnmatchBankLines(ctx context.Context, bankLineIDs []string) (int, error) {
	changed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, id := range bankLineIDs {
			res, err := tx.ExecContext(ctx, `UPDATE bank_lines SET
				is_matched = 0, match_type = '', match_group_id = '', confidence_score = 0, confidence_level = '',
				matching_rule_id = '', matched_by = '', matched_at = NULL
				WHERE id = ? AND is_matched = 1`, id)
			if err != nil {
				return fmt.Errorf("failed to unmatch bank line %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM bank_line_matches WHERE bank_line_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete links of %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeUnmatchFailed, "unmatch bank lines", err)
	}
	return changed, nil
}

// IncompleteGroups lists groups whose link count differs from their recorded size.
// BankLineIDs covers every line still carrying the group, linked or not.
func (s *SQLiteStore) IncompleteGroups(ctx context.Context) ([]IncompleteGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT match_group_id, MAX(group_size), COUNT(*)
		FROM bank_line_matches
		WHERE match_group_id != ''
		GROUP BY match_group_id
		HAVING COUNT(*) != MAX(group_size)
		ORDER BY match_group_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query match groups: %w", err)
	}

	var groups []IncompleteGroup
	for rows.Next() {
		var g IncompleteGroup
		if err := rows.Scan(&g.GroupID, &g.Expected, &g.Found); err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		ids, err := s.groupBankLines(ctx, groups[i].GroupID)
		if err != nil {
			return nil, err
		}
		groups[i].BankLineIDs = ids
	}
	return groups, nil
}

func (s *SQLiteStore) groupBankLines(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM bank_lines WHERE match_group_id = ?
		UNION SELECT bank_line_id FROM bank_line_matches WHERE match_group_id = ?
		ORDER BY 1`, groupID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank lines of group %s: %w", groupID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type link struct {
	ledgerEntryID string
	groupID       string
	groupSize     int
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadLinks(ctx context.Context, q querier, bankLineID string) ([]link, error) {
	rows, err := q.QueryContext(ctx, `SELECT ledger_entry_id, match_group_id, group_size
		FROM bank_line_matches WHERE bank_line_id = ? ORDER BY ledger_entry_id`, bankLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links of %s: %w", bankLineID, err)
	}
	defer rows.Close()

	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.ledgerEntryID, &l.groupID, &l.groupSize); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanBankLine(row rowScanner) (*models.BankLine, error) {
	bl := &models.BankLine{}
	var date, debit, credit, matchType, level string
	var matchedAt sql.NullString

	err := row.Scan(
		&bl.ID, &bl.BankAccountID, &bl.EntityID, &date, &debit, &credit, &bl.Narration, &bl.Reference,
		&bl.Matched, &matchType, &bl.MatchGroupID, &bl.ConfidenceScore, &level, &bl.MatchingRuleID,
		&bl.MatchedBy, &matchedAt,
	)
	if err != nil {
		return nil, err
	}

	if bl.TransactionDate, err = models.ParseDate(date); err != nil {
		return nil, err
	}
	if bl.Debit, err = decimal.NewFromString(debit); err != nil {
		return nil, fmt.Errorf("bank line %s has invalid debit %q: %w", bl.ID, debit, err)
	}
	if bl.Credit, err = decimal.NewFromString(credit); err != nil {
		return nil, fmt.Errorf("bank line %s has invalid credit %q: %w", bl.ID, credit, err)
	}
	bl.MatchType = models.MatchType(matchType)
	bl.ConfidenceLevel = models.ConfidenceLevel(level)
	bl.MatchedAt = parseTimestamp(matchedAt)
	return bl, nil
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	le := &models.LedgerEntry{}
	var date, amount string

	err := row.Scan(
		&le.ID, &le.EntityID, &date, &amount, &le.Description, &le.Reference,
		&le.VendorID, &le.CustomerID, &le.AccountCode, &le.Category, &le.EntryType,
	)
	if err != nil {
		return nil, err
	}

	if le.EntryDate, err = models.ParseDate(date); err != nil {
		return nil, err
	}
	if le.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("ledger entry %s has invalid amount %q: %w", le.ID, amount, err)
	}
	return le, nil
}

func scanRule(row rowScanner) (*models.MatchingRule, error) {
	r := &models.MatchingRule{}
	var keywords, direction string
	var amountMin, amountMax, lastUsed sql.NullString

	err := row.Scan(
		&r.ID, &r.EntityID, &r.BankAccountID, &r.Name, &r.Priority, &r.IsActive, &r.NarrationPattern, &keywords,
		&r.ReferencePattern, &amountMin, &amountMax, &direction, &r.LedgerDescriptionPattern, &r.LedgerAccountCode,
		&r.VendorID, &r.CustomerID, &r.DateToleranceDays, &r.AmountTolerancePercent, &r.TimesUsed, &r.TimesSucceeded,
		&lastUsed,
	)
	if err != nil {
		return nil, err
	}

	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &r.NarrationKeywords); err != nil {
			return nil, fmt.Errorf("rule %s has invalid keywords: %w", r.ID, err)
		}
	}
	if r.AmountMin, err = decimalFromNull(amountMin); err != nil {
		return nil, fmt.Errorf("rule %s has invalid amount_min: %w", r.ID, err)
	}
	if r.AmountMax, err = decimalFromNull(amountMax); err != nil {
		return nil, fmt.Errorf("rule %s has invalid amount_max: %w", r.ID, err)
	}
	r.Direction = models.Direction(direction)
	r.LastUsedAt = parseTimestamp(lastUsed)
	return r, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalFromNull(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// placeholders returns n comma-separated SQL bind markers
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
