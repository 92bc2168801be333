package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/imrishuroy/go-topup-payflow/internal/config"
	"github.com/imrishuroy/go-topup-payflow/internal/logging"
	"github.com/imrishuroy/go-topup-payflow/internal/notify"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := cfg.RequireWorker(); err != nil {
		logger.Fatal("worker configuration error", zap.Error(err))
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal("failed to init telegram bot", zap.Error(err))
	}

	orderStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	direct := notify.NewDirect(
		notify.NewTelegram(bot, cfg.TelegramOperatorChat, cfg.TelegramSendRPS),
		notify.NewSESMailer(clients.SES, cfg.MailFromName, cfg.MailFrom),
		orderStore,
		cfg.SiteBaseURL,
		logger,
	)
	p := NewProcessor(direct, orderStore, logger)

	// If RUN_LOCAL=true, run a single job from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Fatal("LOCAL_SQS_BODY is not set")
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local job failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
