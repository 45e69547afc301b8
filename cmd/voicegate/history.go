package main

import (
	"time"

	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List completed transactions sent or received by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlledger.Open(c.settings.DBDriver, c.settings.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				pterm.Info.Println("no transactions")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(historyTable(entries)).Render()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func historyTable(entries []sqlledger.Entry) pterm.TableData {
	data := pterm.TableData{{"Date", "Kind", "Direction", "Counterparty", "Amount", "Transaction"}}
	for _, e := range entries {
		counterparty := e.RecipientAccount
		if e.Direction == sqlledger.DirectionReceived {
			counterparty = e.SenderID
		}
		amount := formatAmount(e.Amount)
		if e.Direction == sqlledger.DirectionSent && e.Kind.String() != "deposit" {
			amount = formatAmount(-e.Amount)
		}
		data = append(data, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Kind.String(),
			e.Direction,
			counterparty,
			amount,
			e.PendingID,
		})
	}
	return data
}
