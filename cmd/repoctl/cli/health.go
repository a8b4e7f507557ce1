package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
	"github.com/spf13/cobra"
)

func NewHealthCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "health <credentials-key>",
		Short: "Check a storage credential",
		Long:  "Probes the blob store behind a storage credential and prints OK or UNREACHABLE.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *jobsv1.Client) error {
				resp, err := c.CheckHealth(ctx, &jobsv1.CheckHealthRequest{CredentialsKey: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], resp.Status)
				if strict && resp.Status != "OK" {
					return fmt.Errorf("storage %s is %s", args[0], resp.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero unless the storage is OK")

	return cmd
}
