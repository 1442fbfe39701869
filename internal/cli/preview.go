package cli

import (
	"context"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"github.com/spf13/cobra"
)

type previewOutput struct {
	Identifier string             `json:"identifier"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	Recipients []previewRecipient `json:"recipients"`
}

type previewRecipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (a *app) newPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview [identifier]",
		Short: "Render a job for one identifier without sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.loadJob()
			if err != nil {
				return err
			}
			resolver, err := a.resolver()
			if err != nil {
				return err
			}

			// Preview never sends; the sender only satisfies the constructor.
			batch, err := service.NewBatchService(resolver, noopSender{}, 1, 0, nil)
			if err != nil {
				return err
			}

			preview, err := batch.Preview(cmd.Context(), job, args[0])
			if err != nil {
				return err
			}

			out := previewOutput{
				Identifier: preview.Identifier,
				Subject:    preview.Subject,
				Body:       preview.Body,
				Recipients: make([]previewRecipient, 0, len(preview.Recipients)),
			}
			for _, r := range preview.Recipients {
				out.Recipients = append(out.Recipients, previewRecipient{Name: r.Name, Address: r.Address})
			}
			return writeJSON(cmd, out)
		},
	}
}

type noopSender struct{}

var _ service.Sender = noopSender{}

func (noopSender) Send(context.Context, *domain.Job, string, domain.Recipient, string, string) (*service.Delivery, error) {
	return &service.Delivery{}, nil
}
