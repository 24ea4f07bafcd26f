package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&migrateCmd{}, "setup")
	commander.Register(&seedCmd{}, "setup")

	commander.Register(&registerProductCmd{}, "reference")
	commander.Register(&recordRateCmd{}, "reference")

	commander.Register(&postJournalCmd{}, "posting")
	commander.Register(&postInventoryCmd{}, "posting")

	commander.Register(newViewCmd(kindTrialBalance, "trial balance from stored balances, or from posted lines before -as-of", true), "reports")
	commander.Register(newViewCmd(kindValuation, "on-hand inventory value per product and location", false), "reports")
	commander.Register(newViewCmd(kindAging, "inventory aging buckets and obsolescence reserve", true), "reports")
	commander.Register(newViewCmd(kindABC, "ABC classification by inventory value", false), "reports")
	commander.Register(newViewCmd(kindTurnover, "inventory turnover and days on hand over the trailing window", true), "reports")
	commander.Register(newViewCmd(kindExposure, "unrealized gain or loss on foreign currency balances", true), "reports")
	commander.Register(&reportCmd{}, "reports")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
