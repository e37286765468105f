/*
main.go - Operator CLI for the capital ledger

PURPOSE:
  Inspects and repairs ledgers directly against the database, without a
  user session. Uses the same configuration sources as the server.

COMMANDS:
  accounts                             List every account with its balance
  statement -account ID [-n 20]        Balance, investments and journal
  accrue -account ID [-at DATE]        Accrued ROI of open investments at a date
  deposit -account ID -amount X        Credit cash, journaled like an API deposit
  seed -scenario ID -email E           Create a demo user with history

GLOBAL FLAGS:
  -db      SQLite database path (overrides DATABASE_PATH)

EXAMPLES:
  ledgerctl accounts
  ledgerctl -db=./data/ledger.db statement -account 6f1c...
  ledgerctl accrue -account 6f1c... -at 2026-01-01

SEE ALSO:
  - commands.go: Command implementations
  - scenarios.go: Demo datasets for seed
  - account/service.go: Operations used by deposit
*/
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var dbPath = flag.String("db", "", "SQLite database path (default: configured database.path)")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&accountsCmd{}, "inspect")
	commander.Register(&statementCmd{}, "inspect")
	commander.Register(&accrueCmd{}, "inspect")
	commander.Register(&depositCmd{}, "repair")
	commander.Register(&seedCmd{}, "demo")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
