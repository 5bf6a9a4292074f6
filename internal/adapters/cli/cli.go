package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

const usage = "Available: stock, layers, avail, recalc, transfers, inspections, sweep, bal"

// Run executes a one-shot CLI command.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}

	needRef := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("usage: app %s <item code or id>", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "stock", "s":
		ref, err := needRef()
		if err != nil {
			return err
		}
		result, err := svc.GetStock(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to load stock: %w", err)
		}
		printStock(out, result)

	case "layers", "l":
		ref, err := needRef()
		if err != nil {
			return err
		}
		layers, err := svc.ListLayers(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to list layers: %w", err)
		}
		printLayers(out, layers)

	case "avail", "a":
		ref, err := needRef()
		if err != nil {
			return err
		}
		a, err := svc.GetAvailability(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to compute availability: %w", err)
		}
		printAvailability(out, a)

	case "recalc":
		ref, err := needRef()
		if err != nil {
			return err
		}
		totals, err := svc.RecalculateItemTotals(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to recalculate: %w", err)
		}
		if totals.Drifted {
			fmt.Fprintf(out, "Corrected item %d: qty %d -> %d, avg cost %d -> %d\n",
				totals.ItemID, totals.StoredQuantity, totals.QuantityOnHand,
				totals.StoredAverageCost, totals.AverageCost)
		} else {
			fmt.Fprintf(out, "Item %d totals match its layers (qty %d, avg cost %d).\n",
				totals.ItemID, totals.QuantityOnHand, totals.AverageCost)
		}

	case "transfers", "t":
		ref, err := needRef()
		if err != nil {
			return err
		}
		ts, err := svc.ListTransfers(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to list transfers: %w", err)
		}
		printTransfers(out, ts)

	case "inspections", "qc":
		var status core.InspectionStatus
		if len(args) > 1 {
			status = core.InspectionStatus(strings.ToUpper(args[1]))
		}
		orders, err := svc.ListInspections(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list inspections: %w", err)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(orders)

	case "sweep":
		n, err := svc.ExpireReservations(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("failed to expire reservations: %w", err)
		}
		fmt.Fprintf(out, "Expired %d reservation(s).\n", n)

	case "bal", "balances":
		result, err := svc.GetTrialBalance(ctx)
		if err != nil {
			return fmt.Errorf("failed to get balances: %w", err)
		}
		printTrialBalance(out, result)

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
	return nil
}

func printStock(out io.Writer, s *app.StockResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %s  %s (%s, %s)\n", s.Item.Code, s.Item.Name, s.Item.ItemClass, s.Item.ValuationMethod)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  On hand      : %d %s\n", s.Item.QuantityOnHand, s.Item.BaseUnit)
	fmt.Fprintf(out, "  Average cost : %d\n", s.Item.AverageCost)
	printAvailability(out, &s.Availability)
	printLayers(out, s.Layers)
}

func printAvailability(out io.Writer, a *core.Availability) {
	fmt.Fprintf(out, "  %-10s %-10s %-10s %-10s %-10s\n", "ON HAND", "RESERVED", "REJECTED", "PENDING", "AVAILABLE")
	fmt.Fprintf(out, "  %-10d %-10d %-10d %-10d %-10d\n", a.OnHand, a.Reserved, a.Rejected, a.Pending, a.Available)
}

func printLayers(out io.Writer, layers []core.Layer) {
	fmt.Fprintln(out, strings.Repeat("-", 62))
	fmt.Fprintf(out, "  %-5s %-14s %-10s %8s %8s %10s\n", "ID", "BATCH", "QC", "INITIAL", "LEFT", "UNIT COST")
	for _, l := range layers {
		fmt.Fprintf(out, "  %-5d %-14s %-10s %8d %8d %10d\n",
			l.ID, l.BatchNumber, l.QCStatus, l.InitialQty, l.RemainingQty, l.UnitCost)
	}
	fmt.Fprintln(out, strings.Repeat("-", 62))
}

func printTransfers(out io.Writer, ts []core.LocationTransfer) {
	fmt.Fprintf(out, "  %-5s %-6s %-18s %-8s %-8s %8s\n", "ID", "LAYER", "REASON", "FROM", "TO", "QTY")
	for _, t := range ts {
		from := "-"
		if t.FromLocationID != nil {
			from = fmt.Sprint(*t.FromLocationID)
		}
		fmt.Fprintf(out, "  %-5d %-6d %-18s %-8s %-8d %8d\n", t.ID, t.LayerID, t.Reason, from, t.ToLocationID, t.Quantity)
	}
}

func printTrialBalance(out io.Writer, result *app.TrialBalanceResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-58s\n", "TRIAL BALANCE")
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-10s %-30s %15s\n", "CODE", "NAME", "BALANCE")
	fmt.Fprintln(out, strings.Repeat("-", 62))
	for _, b := range result.Accounts {
		fmt.Fprintf(out, "  %-10s %-30s %15s\n", b.Code, b.Name, b.Major().StringFixed(2))
	}
	fmt.Fprintln(out, strings.Repeat("=", 62))
}
