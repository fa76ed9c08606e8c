package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wyfcoding/optionvault/internal/vault/application"
)

var expiryCmd = &cobra.Command{
	Use:   "expiry",
	Short: "Print the monthly expiry for a timestamp",
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := cmd.Flags().GetInt64("ts")
		if err != nil {
			return err
		}
		at := time.Now().UTC()
		if ts > 0 {
			at = time.Unix(ts, 0).UTC()
		}
		expiry := application.MonthlyExpiry(at)
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", expiry.Unix(), expiry.Format(time.RFC3339))
		return nil
	},
}

func init() {
	expiryCmd.Flags().Int64("ts", 0, "unix timestamp in seconds, defaults to now")
}
