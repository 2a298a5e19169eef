package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/example/luxmed-hunter/internal/config"
)

// SES sends mail through Amazon SES using the ambient AWS credential chain.
type SES struct {
	client *sesv2.Client
	cfg    config.MailConfig
	log    *slog.Logger
}

func NewSES(cfg config.MailConfig, log *slog.Logger) (*SES, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.SES.Region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(awsCfg), cfg: cfg, log: log}, nil
}

func (s *SES) Notify(ctx context.Context, subject, body string) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.cfg.From),
		Destination:      &types.Destination{ToAddresses: s.cfg.Recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.log.Info("email notification sent", "provider", "ses", "subject", subject)
	return nil
}
