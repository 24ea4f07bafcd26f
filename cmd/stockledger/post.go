package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
)

type journalFile struct {
	Entry ledgerdomain.EntryRequest  `json:"entry"`
	Lines []ledgerdomain.LineRequest `json:"lines"`
}

type postJournalCmd struct {
	file string
}

func (*postJournalCmd) Name() string     { return "post-journal" }
func (*postJournalCmd) Synopsis() string { return "post a journal entry from a JSON file" }
func (*postJournalCmd) Usage() string {
	return `stockledger post-journal -f <entry.json>

  The file holds {"entry": {...}, "lines": [...]}. The entry is validated and
  posted in one transaction; nothing is written when it is rejected.
`
}

func (c *postJournalCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "journal entry JSON file")
}

func (c *postJournalCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		return usage("post-journal: -f is required")
	}
	var in journalFile
	if err := decodeFile(c.file, &in); err != nil {
		return exit(err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		res, err := s.Ledger.PostJournalEntry(ctx, in.Entry, in.Lines)
		if err != nil {
			return err
		}
		return printJSON(res)
	}))
}

type inventoryFile struct {
	Transaction inventorydomain.TransactionRequest `json:"transaction"`
	Lines       []inventorydomain.LineRequest      `json:"lines"`
}

type postInventoryCmd struct {
	file string
}

func (*postInventoryCmd) Name() string     { return "post-inventory" }
func (*postInventoryCmd) Synopsis() string { return "post an inventory transaction from a JSON file" }
func (*postInventoryCmd) Usage() string {
	return `stockledger post-inventory -f <movement.json>

  The file holds {"transaction": {...}, "lines": [...]}. Cost layers, stock
  and the journal entry are updated together or not at all.
`
}

func (c *postInventoryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "inventory transaction JSON file")
}

func (c *postInventoryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		return usage("post-inventory: -f is required")
	}
	var in inventoryFile
	if err := decodeFile(c.file, &in); err != nil {
		return exit(err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		res, err := s.Inventory.PostInventoryTransaction(ctx, in.Transaction, in.Lines)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if res.JournalEntryRef == "" {
			fmt.Println("no journal entry: movement carried no value")
		}
		return nil
	}))
}
