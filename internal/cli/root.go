// Package cli implements the notifier command line: one-shot batch runs,
// template previews and job file validation, without the database or broker.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultConcurrency  = 4
	defaultSendTimeout  = 30 * time.Second
	defaultBatchTimeout = 30 * time.Minute
)

// ResolverFactory builds the record resolver for a search endpoint.
type ResolverFactory func(baseURL string) (search.Resolver, error)

// Options wires the collaborators of the command tree. Zero values select the
// production implementations.
type Options struct {
	Stdout      io.Writer
	Resolvers   ResolverFactory
	Providers   service.ProviderFactory
	NewLogger   func(level string) (*zap.Logger, error)
	LookupAlert func() string
}

type globalFlags struct {
	jobFile  string
	solrURL  string
	logLevel string
}

type app struct {
	opts  Options
	flags globalFlags
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Resolvers == nil {
		opts.Resolvers = func(baseURL string) (search.Resolver, error) {
			return search.NewSolrClient(baseURL)
		}
	}
	if opts.NewLogger == nil {
		opts.NewLogger = observability.NewConsoleLogger
	}
	if opts.LookupAlert == nil {
		opts.LookupAlert = func() string { return os.Getenv("ALERT_ADDRESS") }
	}

	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "notifier",
		Short: "Send templated notifications for indexed records",
		Long: `notifier resolves record identifiers against the search index, renders
the job's subject, body and recipients from each record, and sends one
message per recipient. Identifiers with no successful send are reported
as the failed set.

Example:
  notifier run --job jobs/curation.yaml oid:1 oid:2
  notifier preview --job jobs/curation.yaml oid:1
  notifier validate --job jobs/curation.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)

	root.PersistentFlags().StringVarP(&a.flags.jobFile, "job", "j", "", "job file (YAML or JSON)")
	root.PersistentFlags().StringVar(&a.flags.solrURL, "solr", os.Getenv("SOLR_URL"), "Solr core URL (default $SOLR_URL)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "info", "log level")

	root.AddCommand(a.newRunCommand())
	root.AddCommand(a.newPreviewCommand())
	root.AddCommand(a.newValidateCommand())

	return root
}
