package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/metaproph3t/smolchain/internal/logging"
	"github.com/metaproph3t/smolchain/pkg/accountsdb"
	"github.com/metaproph3t/smolchain/pkg/bank"
)

type accountBalance struct {
	ID      accountsdb.AccountID `json:"id"`
	Balance uint64               `json:"balance"`
}

func main() {
	app := &cli.App{
		Name:  "smolchain",
		Usage: "race competing forks over the accounts store and finalize a winner each round",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "competing forks per round"},
			&cli.IntFlag{Name: "rounds", Value: 8, Usage: "finalization rounds"},
			&cli.Uint64Flag{Name: "amount", Value: 1, Usage: "amount moved per transfer"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logging.Sugar.Fatal(err)
	}
}

func run(c *cli.Context) error {
	workers := c.Int("workers")
	rounds := c.Int("rounds")
	amount := c.Uint64("amount")

	parent := bank.GenesisBank()
	nextSlot := accountsdb.Slot(1)

	for round := 0; round < rounds; round++ {
		children := make([]*bank.Bank, workers)
		for i := range children {
			children[i] = parent.ChildBank(nextSlot)
			nextSlot++
		}

		// Every fork pays a different recipient out of the treasury, all of
		// them contending for account 0.
		var g errgroup.Group
		for i, child := range children {
			child := child
			to := accountsdb.AccountID(i + 1)
			g.Go(func() error {
				return child.ApplyWithRetry(bank.Transfer{From: 0, To: to, Amount: amount})
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// The highest slot of the round wins; rooting it prunes the updates
		// of its lower-slot siblings.
		winner := children[len(children)-1]
		winner.Finalize()
		parent = winner
	}

	final := make([]accountBalance, 0, workers+1)
	for id := accountsdb.AccountID(0); id <= accountsdb.AccountID(workers); id++ {
		acc, ok := parent.GetAccount(id)
		if !ok {
			continue
		}
		final = append(final, accountBalance{ID: id, Balance: acc.Balance})
	}
	data, _ := json.MarshalIndent(final, "", "  ")
	fmt.Println(string(data))
	return nil
}
