package main

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pactsign-backend/internal/app"
	"github.com/angelmondragon/pactsign-backend/internal/dispatcher"
	"github.com/angelmondragon/pactsign-backend/internal/mail"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/metrics"
)

func main() {
	rt := app.MustBoot("email-dispatcher")
	cfg, logg := rt.Config, rt.Logger
	boot := context.Background()

	// SES and S3 attachments share one AWS config; skip loading it when neither is used.
	var awsCfg *aws.Config
	if cfg.Mail.Transport == config.MailTransportSES || cfg.AWS.DocumentsBucket != "" {
		loaded, err := mail.LoadAWSConfig(boot, cfg.AWS)
		if err != nil {
			rt.Fatal(boot, "failed to load aws config", err)
		}
		awsCfg = &loaded
	}

	transport, err := mail.NewTransport(cfg.Mail, awsCfg, logg)
	if err != nil {
		rt.Fatal(boot, "failed to create mail transport", err)
	}
	renderer, err := mail.NewRenderer()
	if err != nil {
		rt.Fatal(boot, "failed to compile email templates", err)
	}

	service, err := dispatcher.NewService(dispatcher.ServiceParams{
		Config:      cfg.Outbox,
		Logger:      logg,
		Repository:  rt.OutboxRepository(),
		Renderer:    renderer,
		Transport:   transport,
		Attachments: mail.NewAttachmentLoader(awsCfg, cfg.AWS.DocumentsBucket),
		Metrics:     metrics.NewDispatchMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Fatal(boot, "failed to create email dispatcher", err)
	}

	ctx, stop := rt.SignalContext(map[string]any{"transport": cfg.Mail.Transport})
	defer stop()
	defer rt.Shutdown(context.Background())

	sub, err := rt.Redis.Subscribe(ctx, cfg.Outbox.WakeChannel)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "outbox wake subscription unavailable; polling only")
	} else {
		defer sub.Close()
		go listenForWake(ctx, sub, service.Wake, logg)
	}

	go func() {
		if err := metrics.Serve(ctx, ":"+cfg.App.MetricsPort, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics endpoint stopped", err)
		}
	}()

	logg.Info(ctx, "email dispatcher polling outbox")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		rt.Fatal(ctx, "email dispatcher exited", err)
	}
	logg.Info(ctx, "email dispatcher stopped")
}
