package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
	"github.com/dmitrijs2005/repostore/internal/server/migrate"
	"github.com/spf13/cobra"
)

func NewTriggerCommand() *cobra.Command {
	var param string
	var paramFile string

	cmd := &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Trigger a background job",
		Long:  "Asks the server to run a job. The call returns once the job is accepted; progress is recorded in the job snapshots.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readParam(param, paramFile)
			if err != nil {
				return err
			}

			return withClient(cmd, func(ctx context.Context, c *jobsv1.Client) error {
				resp, err := c.TriggerJob(ctx, &jobsv1.TriggerJobRequest{JobID: args[0], ExecutorParam: raw})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %s request_id=%s\n", args[0], resp.RequestID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&param, "param", "p", "", "executor parameter as a JSON object")
	cmd.Flags().StringVarP(&paramFile, "param-file", "f", "", "read the executor parameter from a file")
	cmd.MarkFlagsMutuallyExclusive("param", "param-file")

	return cmd
}

func readParam(param, paramFile string) (json.RawMessage, error) {
	if paramFile != "" {
		b, err := os.ReadFile(paramFile)
		if err != nil {
			return nil, err
		}
		param = string(b)
	}
	if param == "" {
		return nil, nil
	}
	if !json.Valid([]byte(param)) {
		return nil, fmt.Errorf("executor parameter is not valid JSON")
	}
	return json.RawMessage(param), nil
}

func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List built-in job ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range []string{migrate.JobMigrateBlockNode, migrate.JobMigrateStorage, migrate.JobArchiveIdleBlocks} {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	return cmd
}
