package main

import (
	"errors"
	"fmt"
	"strings"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage ledger users and their knowledge answers",
	}
	cmd.AddCommand(newUserPutCmd(c), newUserShowCmd(c))
	return cmd
}

func newUserPutCmd(c *cli) *cobra.Command {
	var (
		account string
		balance int64
		voice   bool
		answers []string
	)

	cmd := &cobra.Command{
		Use:   "put <user-id>",
		Short: "Create or replace a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}

			store, err := sqlledger.Open(c.settings.DBDriver, c.settings.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			u := sqlledger.User{
				ID:              args[0],
				AccountNumber:   account,
				Balance:         balance,
				VoiceRegistered: voice,
				Answers:         parsed,
			}
			if err := store.PutUser(cmd.Context(), u); err != nil {
				return err
			}
			pterm.Success.Printf("user %s saved with %d answers\n", u.ID, len(parsed))
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account number (required)")
	cmd.Flags().Int64Var(&balance, "balance", 0, "opening balance in minor units")
	cmd.Flags().BoolVar(&voice, "voice-registered", false, "mark the voice profile as registered")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "knowledge answer as field=value (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newUserShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show balance and answered questions (answers are masked)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlledger.Open(c.settings.DBDriver, c.settings.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			profile, err := store.GetProfile(ctx, args[0])
			if err != nil {
				return err
			}
			balance, err := store.Balance(ctx, args[0])
			if err != nil {
				return err
			}

			pterm.DefaultSection.Printf("User %s", profile.UserID)
			data := pterm.TableData{
				{"Balance", formatAmount(balance)},
				{"Voice registered", fmt.Sprintf("%t", profile.VoiceRegistered)},
			}
			for _, ch := range voiceGate.ChallengeCatalog() {
				if _, ok := profile.Answers[ch.Field]; ok {
					data = append(data, []string{ch.Prompt, "****"})
				}
			}
			return pterm.DefaultTable.WithData(data).Render()
		},
	}
}

// parseAnswers turns field=value pairs into an answer map. Fields must be
// in the challenge catalog.
func parseAnswers(pairs []string) (map[string]string, error) {
	known := make(map[string]bool)
	for _, ch := range voiceGate.ChallengeCatalog() {
		known[ch.Field] = true
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		field, value, ok := strings.Cut(pair, "=")
		field, value = strings.TrimSpace(field), strings.TrimSpace(value)
		if !ok || field == "" || value == "" {
			return nil, fmt.Errorf("answer %q must be field=value", pair)
		}
		if !known[field] {
			return nil, fmt.Errorf("unknown challenge field %q", field)
		}
		if _, dup := out[field]; dup {
			return nil, errors.New("duplicate answer for " + field)
		}
		out[field] = value
	}
	return out, nil
}
