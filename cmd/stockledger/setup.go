package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/smallbiznis/stockledger/internal/seed"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "bring the database schema up to date" }
func (*migrateCmd) Usage() string {
	return `stockledger migrate

  Applies pending migrations to the configured database. With SEED_ON_START
  enabled the reference data is seeded as well.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return exit(run(ctx, func(context.Context, services) error {
		fmt.Println("schema up to date")
		return nil
	}))
}

type seedCmd struct {
	functional string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "load currencies, chart of accounts and transaction types" }
func (*seedCmd) Usage() string {
	return `stockledger seed [-functional <code>]

  Inserts the missing reference rows. Existing rows, including an already
  chosen functional currency, are kept.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.functional, "functional", "", "functional currency for a new book (defaults to FUNCTIONAL_CURRENCY)")
}

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return exit(run(ctx, func(ctx context.Context, s services) error {
		functional := c.functional
		if functional == "" {
			functional = s.Config.FunctionalCurrency
		}
		if err := seed.Ensure(ctx, s.DB, seed.Options{FunctionalCurrency: functional}); err != nil {
			return err
		}
		cur, err := s.Currency.Functional(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("seeded, functional currency %s\n", cur.Code)
		return nil
	}))
}
