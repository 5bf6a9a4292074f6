package gl

import (
	"context"
	"errors"
	"fmt"

	"inventory-ledger/internal/core"

	"github.com/jackc/pgx/v5"
)

const (
	RuleInventory = "INVENTORY"
	RuleCOGS      = "COGS"
)

// RuleEngine resolves configurable account mappings from the account_rules table.
type RuleEngine interface {
	ResolveAccount(ctx context.Context, q core.Querier, ruleType, itemClass string) (string, error)
}

type ruleEngine struct{}

func NewRuleEngine() RuleEngine {
	return ruleEngine{}
}

// ResolveAccount prefers a rule pinned to the item class over a catch-all
// rule, then the highest priority. Expired rules are ignored.
func (ruleEngine) ResolveAccount(ctx context.Context, q core.Querier, ruleType, itemClass string) (string, error) {
	var accountCode string
	err := q.QueryRow(ctx, `
		SELECT account_code
		FROM account_rules
		WHERE rule_type = $1
		  AND (item_class IS NULL OR item_class = $2)
		  AND (effective_to IS NULL OR effective_to >= CURRENT_DATE)
		ORDER BY (item_class IS NOT NULL) DESC, priority DESC
		LIMIT 1
	`, ruleType, itemClass).Scan(&accountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("no account rule found for rule_type %q, item class %q: seed account_rules", ruleType, itemClass)
		}
		return "", fmt.Errorf("failed to resolve account rule (rule_type=%q): %w", ruleType, err)
	}
	return accountCode, nil
}
