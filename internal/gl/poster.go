// Package gl books the cost of stock consumptions as journal entries. It is
// the posting collaborator the layer store hands each consumption to.
package gl

import (
	"context"
	"fmt"

	"inventory-ledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Line is one side of a journal entry, in minor currency units.
type Line struct {
	AccountCode string
	Debit       int64
	Credit      int64
}

type AccountBalance struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"` // debits minus credits, minor units
}

// Major renders the balance in major currency units.
func (b AccountBalance) Major() decimal.Decimal {
	return decimal.New(b.Balance, -2)
}

// Poster implements core.CostPoster: DR COGS / CR INVENTORY for every
// consumption, committed with the consumption itself. A replayed consume never
// reaches the poster; the layer store answers it from its request log.
type Poster struct {
	rules RuleEngine
	log   *zap.Logger
}

func NewPoster(rules RuleEngine, log *zap.Logger) *Poster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poster{rules: rules, log: log}
}

var _ core.CostPoster = (*Poster)(nil)

func (p *Poster) PostConsumption(ctx context.Context, tx pgx.Tx, item core.Item, result core.ConsumeResult) error {
	if result.TotalCost == 0 {
		return nil
	}

	cogs, err := p.rules.ResolveAccount(ctx, tx, RuleCOGS, item.ItemClass)
	if err != nil {
		return err
	}
	inventory, err := p.rules.ResolveAccount(ctx, tx, RuleInventory, item.ItemClass)
	if err != nil {
		return err
	}

	narration := fmt.Sprintf("COGS %s: %d %s", item.Code, result.TotalQty, item.BaseUnit)
	if result.ReferenceType != "" {
		narration += fmt.Sprintf(" for %s %s", result.ReferenceType, result.ReferenceID)
	}

	err = commitEntry(ctx, tx, entry{
		sourceKey:     "consumption:" + result.ConsumptionRef,
		postingDate:   result.ConsumptionDate,
		narration:     narration,
		referenceType: result.ReferenceType,
		referenceID:   result.ReferenceID,
		lines:         cogsLines(cogs, inventory, result.TotalCost),
	})
	if err != nil {
		return err
	}
	p.log.Debug("consumption posted",
		zap.String("consumption_ref", result.ConsumptionRef),
		zap.Int64("amount", result.TotalCost))
	return nil
}

func cogsLines(cogsAccount, inventoryAccount string, amount int64) []Line {
	return []Line{
		{AccountCode: cogsAccount, Debit: amount},
		{AccountCode: inventoryAccount, Credit: amount},
	}
}

// Balances returns debit-minus-credit per account.
func Balances(ctx context.Context, q core.Querier) ([]AccountBalance, error) {
	rows, err := q.Query(ctx, `
		SELECT a.code, a.name, (COALESCE(SUM(jl.debit), 0) - COALESCE(SUM(jl.credit), 0))::bigint AS balance
		FROM accounts a
		LEFT JOIN journal_lines jl ON a.id = jl.account_id
		GROUP BY a.id, a.code, a.name
		ORDER BY a.code
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Balance); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
