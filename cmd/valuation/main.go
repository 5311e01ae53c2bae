// Package main provides the operator CLI for the cost-layer valuation engine.
// Usage: valuation migrate
//
//	valuation valuate --method WEIGHTED_AVERAGE
//	valuation cogs --product <id> --from 2024-01-01 --to 2024-01-31
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"costledger/internal/app"
	"costledger/internal/config"
	"costledger/internal/core/apperror"
	appctx "costledger/internal/core/context"
	"costledger/internal/core/id"
	"costledger/internal/core/types"
	"costledger/internal/domain/valuation"
	"costledger/internal/infrastructure/storage/postgres"
	"costledger/pkg/logger"
)

const dateLayout = "2006-01-02"

type command struct {
	run   func(ctx context.Context, a *app.App, args []string) (any, error)
	usage string
}

var commands = map[string]command{
	"migrate":    {runMigrate, "Create or update the database schema"},
	"layers":     {runLayers, "List a product's cost layers"},
	"add-layer":  {runAddLayer, "Record an acquisition batch"},
	"import":     {runImport, "Load opening layers from a JSON file"},
	"deactivate": {runDeactivate, "Soft-delete a cost layer"},
	"consume":    {runConsume, "Consume stock from cost layers"},
	"valuate":    {runValuate, "Value one product or the whole inventory"},
	"cogs":       {runCOGS, "Cost of goods sold for a period"},
	"reconcile":  {runReconcile, "Compare stock quantities with cost layers"},
	"history":    {runHistory, "Show a product's audit trail"},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "--help" || name == "-h" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log.WithComponent("cli"))
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	ctx = appctx.WithActor(ctx, &appctx.Actor{ID: currentUser(), Source: "valuation-cli"})

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to start", "error", err)
	}
	defer a.Close()

	result, err := cmd.run(ctx, a, os.Args[2:])
	if err != nil {
		logger.Error(ctx, "command failed", "command", name, "error", err)
		if appErr, ok := apperror.AsAppError(err); ok {
			_ = json.NewEncoder(os.Stderr).Encode(appErr)
		}
		a.Close()
		os.Exit(1)
	}
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error(ctx, "write result", "error", err)
		}
	}
}

func printUsage() {
	var b strings.Builder
	b.WriteString("Cost layer valuation CLI\n\nUsage:\n  valuation <command> [options]\n\nCommands:\n")
	for _, name := range []string{
		"migrate", "layers", "add-layer", "import", "deactivate",
		"consume", "valuate", "cogs", "reconcile", "history",
	} {
		fmt.Fprintf(&b, "  %-11s %s\n", name, commands[name].usage)
	}
	b.WriteString(`
Environment Variables:
  DATABASE_URL               Connection string (required)
  REDIS_ADDR                 Shared valuation cache; in-process cache when empty
  VALUATION_DEFAULT_METHOD   FIFO, LIFO or WEIGHTED_AVERAGE
  COGS_FALLBACK_POLICY       zero, last_known_cost or fail
`)
	fmt.Print(b.String())
}

func runMigrate(ctx context.Context, a *app.App, _ []string) (any, error) {
	return nil, postgres.Migrate(ctx, a.TxManager)
}

func runLayers(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("layers", flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	all := fs.Bool("all", false, "include inactive layers")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	pid, err := id.Parse(*product)
	if err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	return a.Service.GetLayersForProduct(ctx, pid, !*all)
}

func runAddLayer(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("add-layer", flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	qty := fs.Int64("qty", 0, "quantity")
	cost := fs.String("cost", "", "unit cost")
	acquired := fs.String("date", "", "acquisition date (YYYY-MM-DD, default now)")
	expiry := fs.String("expiry", "", "expiry date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	in := valuation.AddLayerInput{Quantity: *qty}
	var err error
	if in.ProductID, err = id.Parse(*product); err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	if in.UnitCost, err = types.NewMoneyFromString(*cost); err != nil {
		return nil, fmt.Errorf("--cost: %w", err)
	}
	if *acquired != "" {
		if in.AcquisitionDate, err = time.Parse(dateLayout, *acquired); err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
	}
	if *expiry != "" {
		t, err := time.Parse(dateLayout, *expiry)
		if err != nil {
			return nil, fmt.Errorf("--expiry: %w", err)
		}
		in.ExpiryDate = &t
	}
	return a.Service.AddLayer(ctx, in)
}

// importRow is one line of an opening-balance file.
type importRow struct {
	ProductID       id.ID          `json:"productId"`
	Quantity        int64          `json:"quantity"`
	UnitCost        types.Money    `json:"unitCost"`
	AcquisitionDate time.Time      `json:"acquisitionDate"`
	ExpiryDate      *time.Time     `json:"expiryDate"`
	Metadata        map[string]any `json:"metadata"`
}

func runImport(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "JSON array of layers")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", *file, err)
	}
	var rows []importRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", *file, err)
	}

	inputs := make([]valuation.AddLayerInput, len(rows))
	for i, r := range rows {
		inputs[i] = valuation.AddLayerInput(r)
	}
	layers, err := a.Service.ImportLayers(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return map[string]int{"imported": len(layers)}, nil
}

func runDeactivate(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("deactivate", flag.ContinueOnError)
	layer := fs.String("layer", "", "layer id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	lid, err := id.Parse(*layer)
	if err != nil {
		return nil, fmt.Errorf("--layer: %w", err)
	}
	return nil, a.Service.DeactivateLayer(ctx, lid)
}

func runConsume(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("consume", flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	qty := fs.Int64("qty", 0, "quantity")
	method := fs.String("method", "", "valuation method (default from config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	pid, err := id.Parse(*product)
	if err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	m, err := optionalMethod(*method)
	if err != nil {
		return nil, err
	}
	return a.Service.Consume(ctx, valuation.ConsumeInput{ProductID: pid, Quantity: *qty, Method: m})
}

func runValuate(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("valuate", flag.ContinueOnError)
	products := fs.String("product", "", "comma separated product ids (default all)")
	method := fs.String("method", "", "valuation method (default from config)")
	asOf := fs.String("as-of", "", "only layers acquired by this date (single product)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m, err := optionalMethod(*method)
	if err != nil {
		return nil, err
	}
	ids, err := productList(*products)
	if err != nil {
		return nil, err
	}

	if len(ids) == 1 {
		var at *time.Time
		if *asOf != "" {
			t, err := time.Parse(dateLayout, *asOf)
			if err != nil {
				return nil, fmt.Errorf("--as-of: %w", err)
			}
			at = &t
		}
		return a.Service.ValuateProduct(ctx, ids[0], m, at)
	}
	return a.Service.ValuateAll(ctx, ids, m)
}

func runCOGS(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("cogs", flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	from := fs.String("from", "", "period start (YYYY-MM-DD)")
	to := fs.String("to", "", "period end, inclusive (YYYY-MM-DD)")
	method := fs.String("method", "", "valuation method (default from config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	pid, err := id.Parse(*product)
	if err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	start, err := time.Parse(dateLayout, *from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	end, err := time.Parse(dateLayout, *to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	m, err := optionalMethod(*method)
	if err != nil {
		return nil, err
	}

	// the end day is included in full
	end = end.Add(24*time.Hour - time.Nanosecond)
	return a.Service.CalculateCOGS(ctx, pid, start, end, m)
}

func runReconcile(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	products := fs.String("product", "", "comma separated product ids (default all)")
	onlyDrift := fs.Bool("drift", false, "report only products out of sync")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	ids, err := productList(*products)
	if err != nil {
		return nil, err
	}
	drifts, err := a.Service.Reconcile(ctx, ids)
	if err != nil || !*onlyDrift {
		return drifts, err
	}

	out := drifts[:0]
	for _, d := range drifts {
		if !d.InSync() {
			out = append(out, d)
		}
	}
	return out, nil
}

func runHistory(ctx context.Context, a *app.App, args []string) (any, error) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	limit := fs.Int("limit", 50, "max entries")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	pid, err := id.Parse(*product)
	if err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	return a.Audit.ProductHistory(ctx, pid, *limit)
}

func optionalMethod(s string) (valuation.Method, error) {
	if s == "" {
		return "", nil
	}
	return valuation.ParseMethod(s)
}

func productList(s string) ([]id.ID, error) {
	if s == "" {
		return nil, nil
	}
	ids, err := id.ParseList(strings.Split(s, ","))
	if err != nil {
		return nil, fmt.Errorf("--product: %w", err)
	}
	return ids, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}
