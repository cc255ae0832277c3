package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	pkglogger "github.com/BradenHooton/pitlane/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService delivers verification codes
type EmailService interface {
	SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error
}

// SESSender is the subset of the SES client used here
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      SESSender
	fromAddress string
	appName     string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS credential chain for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, appName string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, appName, logger), nil
}

func NewSESEmailServiceWithClient(client SESSender, fromAddress, appName string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:      client,
		fromAddress: fromAddress,
		appName:     appName,
		logger:      logger,
	}
}

// SendOTPEmail sends the code. Failures wrap models.ErrDeliveryFailure.
func (s *AWSSESEmailService) SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f8f9fa; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s password reset</h1>
        <p>Use this code to reset your password:</p>
        <p class="code">%s</p>
        <p>The code expires in %d minutes and can only be used once.</p>
        <p><strong>Didn't ask for this?</strong> You can ignore this email, your password has not been changed.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, s.appName, code, minutes)

	textBody := fmt.Sprintf(`%s password reset

Use this code to reset your password: %s

The code expires in %d minutes and can only be used once.

Didn't ask for this? You can ignore this email, your password has not been changed.
`, s.appName, code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("Your %s verification code", s.appName)),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send otp email via SES",
			pkglogger.EmailAttr(email),
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}

	s.logger.Info("otp email sent",
		pkglogger.EmailAttr(email),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService writes deliveries to the log instead of sending them.
// The code itself is only visible in development.
type LogEmailService struct {
	logger *slog.Logger
	env    string
}

func NewLogEmailService(logger *slog.Logger, env string) *LogEmailService {
	return &LogEmailService{logger: logger, env: env}
}

func (s *LogEmailService) SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.logger.Info("otp email (log delivery)",
		pkglogger.EmailAttr(email),
		pkglogger.RedactedAttr("code", code, s.env),
		slog.Time("expires_at", expiresAt))
	return nil
}
