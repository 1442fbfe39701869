package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a job file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.loadJob()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "job %q is valid\n", job.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "  transport: %s\n", job.Transport)
			fmt.Fprintf(cmd.OutOrStdout(), "  to:        %s\n", job.To)
			fmt.Fprintf(cmd.OutOrStdout(), "  vars:      %s\n", strings.Join(job.Vars, ", "))
			if job.TestMode {
				fmt.Fprintf(cmd.OutOrStdout(), "  testmode:  redirected to %s\n", job.Redirect)
			}
			if job.Alert != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  alert:     %s\n", job.Alert)
			}
			return nil
		},
	}
}
