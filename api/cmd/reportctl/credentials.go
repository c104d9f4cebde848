package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Inspect and select upstream credentials",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials without their secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, cleanup, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		creds, err := rt.Credentials.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list credentials: %w", err)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tACCOUNT\tCLIENT\tZONE\tPRIMARY")
		for _, c := range creds {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", c.ID, c.AccountID, c.ClientID, c.TimeZone, c.IsPrimary)
		}
		return tw.Flush()
	},
}

var credentialsSetPrimaryCmd = &cobra.Command{
	Use:   "set-primary <id>",
	Short: "Make one credential the primary and clear the flag on all others",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid credential id %q", args[0])
		}
		rt, _, cleanup, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := rt.Credentials.SetPrimary(cmd.Context(), id); err != nil {
			return fmt.Errorf("set primary: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credential %d is now primary\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsSetPrimaryCmd)
}
