package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
)

type registerProductCmd struct {
	file string
}

func (*registerProductCmd) Name() string     { return "register-product" }
func (*registerProductCmd) Synopsis() string { return "register a product from a JSON file" }
func (*registerProductCmd) Usage() string {
	return `stockledger register-product -f <product.json>

  The file holds one product: sku, name, costing_method, standard_cost and
  the inventory, cogs, sales and variance account codes.
`
}

func (c *registerProductCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "product JSON file")
}

func (c *registerProductCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		return usage("register-product: -f is required")
	}
	var req inventorydomain.RegisterProductRequest
	if err := decodeFile(c.file, &req); err != nil {
		return exit(err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		product, err := s.Inventory.RegisterProduct(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", product.SKU, product.CostingMethod)
		return nil
	}))
}

type recordRateCmd struct {
	file string
}

func (*recordRateCmd) Name() string     { return "record-rate" }
func (*recordRateCmd) Synopsis() string { return "record exchange rates from a JSON file" }
func (*recordRateCmd) Usage() string {
	return `stockledger record-rate -f <rates.json>

  The file holds an array of {from, to, effective_at, rate}.
`
}

func (c *recordRateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "rates JSON file")
}

func (c *recordRateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		return usage("record-rate: -f is required")
	}
	var reqs []currencydomain.RecordRateRequest
	if err := decodeFile(c.file, &reqs); err != nil {
		return exit(err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		for _, req := range reqs {
			rate, err := s.Currency.RecordRate(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s %s from %s\n", rate.FromCurrency, rate.ToCurrency, rate.Rate, rate.EffectiveAt.Format(dateLayout))
		}
		return nil
	}))
}
