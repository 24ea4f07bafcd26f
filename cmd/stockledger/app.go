package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/subcommands"
	"github.com/smallbiznis/stockledger/internal/account"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/smallbiznis/stockledger/internal/audit"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/clock"
	"github.com/smallbiznis/stockledger/internal/config"
	"github.com/smallbiznis/stockledger/internal/currency"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	"github.com/smallbiznis/stockledger/internal/inventory"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	"github.com/smallbiznis/stockledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	"github.com/smallbiznis/stockledger/internal/migration"
	"github.com/smallbiznis/stockledger/internal/observability"
	"github.com/smallbiznis/stockledger/internal/observability/logger"
	"github.com/smallbiznis/stockledger/internal/projection"
	projectiondomain "github.com/smallbiznis/stockledger/internal/projection/domain"
	"github.com/smallbiznis/stockledger/pkg/db"
	"github.com/smallbiznis/stockledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// services is what the commands reach for once the graph is up.
type services struct {
	fx.In

	DB         *gorm.DB
	Config     config.Config
	Currency   currencydomain.Service
	Ledger     ledgerdomain.Service
	Inventory  inventorydomain.Service
	Projection projectiondomain.Service
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// logToStderr keeps stdout free for report output.
func logToStderr(cfg logger.Config) logger.Config {
	cfg.Output = "stderr"
	return cfg
}

// run builds the application graph, applies migrations, and hands the
// services to fn. The graph is stopped when fn returns.
func run(ctx context.Context, fn func(ctx context.Context, s services) error) error {
	var s services
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Decorate(logToStderr),
		fx.Provide(newSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		audit.Module,
		currency.Module,
		account.Module,
		ledger.Module,
		inventory.Module,
		projection.Module,

		fx.Invoke(func(in services) { s = in }),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(commandContext(ctx, s.Config), s)
}

// commandContext tags one invocation so its audit entries and log lines share
// a correlation id and name the operator.
func commandContext(ctx context.Context, cfg config.Config) context.Context {
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	if cfg.Actor != "" {
		ctx = auditdomain.WithActor(ctx, cfg.Actor)
	}
	return ctx
}

// exit reports err on stderr and maps it to an exit status.
func exit(err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if apperror.IsValidation(err) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

func usage(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitUsageError
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	return encodeJSON(os.Stdout, v)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDate reads an optional YYYY-MM-DD flag value as midnight UTC.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want %s", value, dateLayout)
	}
	return &t, nil
}
