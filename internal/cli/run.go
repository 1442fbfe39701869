package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/jobconfig"
	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	outputKey    string
	concurrency  int
	sendTimeout  time.Duration
	batchTimeout time.Duration
}

type runOutput struct {
	RunID   string              `json:"runId"`
	Job     string              `json:"job"`
	Status  string              `json:"status"`
	Outputs map[string][]string `json:"outputs"`
	Error   string              `json:"error,omitempty"`
}

func (a *app) newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [identifiers...]",
		Short: "Run a job over a batch of identifiers",
		Long: `Run resolves, renders and sends the job for every identifier and prints
the failed set as JSON under the output key. The command fails when the
job is invalid or the search index is unavailable; identifiers that fail
individually are reported, not treated as errors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.loadJob()
			if err != nil {
				return err
			}

			logger, err := a.opts.NewLogger(a.flags.logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			resolver, err := a.resolver()
			if err != nil {
				return err
			}

			dispatcher, err := service.NewDispatcher(a.opts.Providers, ratelimit.Unlimited{}, flags.sendTimeout, logger)
			if err != nil {
				return err
			}
			batch, err := service.NewBatchService(resolver, dispatcher, flags.concurrency, flags.batchTimeout, logger)
			if err != nil {
				return err
			}

			result, runErr := batch.Run(cmd.Context(), job, service.RunRequest{
				Identifiers: args,
				OutputKey:   flags.outputKey,
			})
			if result == nil {
				return runErr
			}

			if err := writeJSON(cmd, runOutput{
				RunID:   result.RunID,
				Job:     result.JobName,
				Status:  result.Status.String(),
				Outputs: map[string][]string{result.OutputKey: result.Failed},
				Error:   result.Error,
			}); err != nil {
				return err
			}

			if runErr != nil {
				logger.Error("run aborted", zap.Error(runErr))
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&flags.outputKey, "output-key", "o", "failed", "key the failed set is reported under")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", defaultConcurrency, "identifiers processed in parallel")
	cmd.Flags().DurationVar(&flags.sendTimeout, "send-timeout", defaultSendTimeout, "timeout for a single send")
	cmd.Flags().DurationVar(&flags.batchTimeout, "batch-timeout", defaultBatchTimeout, "deadline for the whole batch")

	return cmd
}

func (a *app) loadJob() (*domain.Job, error) {
	path := strings.TrimSpace(a.flags.jobFile)
	if path == "" {
		return nil, fmt.Errorf("%w: --job is required", domain.ErrConfiguration)
	}
	return jobconfig.LoadJob(path, jobconfig.Defaults{Alert: a.opts.LookupAlert()})
}

func (a *app) resolver() (search.Resolver, error) {
	baseURL := strings.TrimSpace(a.flags.solrURL)
	if baseURL == "" {
		return nil, errors.New("--solr or SOLR_URL is required")
	}
	return a.opts.Resolvers(baseURL)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
