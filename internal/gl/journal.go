package gl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrUnbalanced is returned for entries whose debits and credits differ.
var ErrUnbalanced = errors.New("journal entry is not balanced")

type entry struct {
	sourceKey      string
	postingDate    time.Time
	narration      string
	referenceType  string
	referenceID    string
	lines          []Line
}

func (e entry) validate() error {
	if len(e.lines) < 2 {
		return fmt.Errorf("journal entry needs at least two lines, got %d", len(e.lines))
	}
	var debit, credit int64
	for _, l := range e.lines {
		if l.Debit < 0 || l.Credit < 0 {
			return fmt.Errorf("negative amount on account %s", l.AccountCode)
		}
		if (l.Debit == 0) == (l.Credit == 0) {
			return fmt.Errorf("line on account %s must carry exactly one of debit or credit", l.AccountCode)
		}
		debit += l.Debit
		credit += l.Credit
	}
	if debit != credit {
		return fmt.Errorf("%w: debits %d, credits %d", ErrUnbalanced, debit, credit)
	}
	return nil
}

// commitEntry inserts the entry and its lines inside tx. sourceKey ties the
// entry to the stock movement it books and is unique per entry.
func commitEntry(ctx context.Context, tx pgx.Tx, e entry) error {
	if err := e.validate(); err != nil {
		return err
	}

	var entryID int
	err := tx.QueryRow(ctx, `
		INSERT INTO journal_entries (source_key, posting_date, narration, reference_type, reference_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING id
	`, e.sourceKey, e.postingDate, e.narration, e.referenceType, e.referenceID).Scan(&entryID)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	for _, line := range e.lines {
		var accountID int
		err := tx.QueryRow(ctx, "SELECT id FROM accounts WHERE code = $1", line.AccountCode).Scan(&accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("account code %s not found", line.AccountCode)
			}
			return fmt.Errorf("failed to fetch account ID for code %s: %w", line.AccountCode, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO journal_lines (entry_id, account_id, debit, credit)
			VALUES ($1, $2, $3, $4)
		`, entryID, accountID, line.Debit, line.Credit); err != nil {
			return fmt.Errorf("failed to insert journal line: %w", err)
		}
	}
	return nil
}
