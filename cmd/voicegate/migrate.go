package main

import (
	"fmt"

	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back ledger schema migrations",
	}

	for _, direction := range []string{"up", "down"} {
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: fmt.Sprintf("Migrate the ledger schema %s", direction),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("migrating %s (%s)", direction, c.settings.DBDriver))
				if err := sqlledger.Migrate(c.settings.DBDriver, c.settings.DBDSN, direction); err != nil {
					spinner.Fail(err.Error())
					return err
				}
				spinner.Success(fmt.Sprintf("schema migrated %s", direction))
				return nil
			},
		})
	}
	return cmd
}
