// Package sender содержит приложение, отправляющее оператору письма
// об уведомлениях биллинга из RabbitMQ.
package sender

import (
	"context"
	"errors"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-ledger/internal/config"
	librabbitmq "github.com/magabrotheeeer/billing-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/smtp"
	"github.com/magabrotheeeer/billing-ledger/internal/rabbitmq"
	senderservice "github.com/magabrotheeeer/billing-ledger/internal/services/sender"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, librabbitmq.GetBillingQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(logger, transport, cfg.OperatorEmail)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// dropMalformed подтверждает сообщения, которые нельзя разобрать, чтобы они
// не возвращались в очередь бесконечно.
func dropMalformed(log *slog.Logger, handler func([]byte) error) func([]byte) error {
	return func(body []byte) error {
		err := handler(body)
		if errors.Is(err, senderservice.ErrMalformedMessage) {
			log.Error("dropping malformed notification", sl.Err(err))
			return nil
		}
		return err
	}
}

func (a *App) Run(ctx context.Context) error {
	handler := dropMalformed(a.logger, a.senderService.SendBillingNotification)
	for _, q := range librabbitmq.GetBillingQueues() {
		if err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, q.QueueName, handler); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), slog.Any("err", err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("Sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
