package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// LoadAWSConfig prefers static keys when both are set and otherwise falls
// back to the default credential chain.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewTransport builds the transport selected by PACTSIGN_MAIL_TRANSPORT.
func NewTransport(mailCfg config.MailConfig, awsCfg *aws.Config, logg *logger.Logger) (Transport, error) {
	switch mailCfg.Transport {
	case config.MailTransportSES:
		if awsCfg == nil {
			return nil, fmt.Errorf("ses transport requires aws config")
		}
		return NewSESTransport(sesv2.NewFromConfig(*awsCfg), mailCfg.FromEmail, mailCfg.FromName, mailCfg.ReplyTo), nil
	case config.MailTransportLog:
		return NewLogTransport(logg), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", mailCfg.Transport)
	}
}

// NewAttachmentLoader returns nil when no documents bucket is configured.
func NewAttachmentLoader(awsCfg *aws.Config, bucket string) AttachmentLoader {
	if awsCfg == nil || bucket == "" {
		return nil
	}
	return NewS3Loader(s3.NewFromConfig(*awsCfg), bucket)
}
