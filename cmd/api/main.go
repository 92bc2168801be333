package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-topup-payflow/internal/app"
	"github.com/imrishuroy/go-topup-payflow/internal/handlers"
)

func main() {
	a, err := app.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() { _ = a.Logger.Sync() }()

	if !a.Config.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(a.HandlerConfig())

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if a.Config.RunLocal {
		a.Logger.Info("running local server", zap.String("addr", a.Config.Addr))
		if err := r.Run(a.Config.Addr); err != nil {
			a.Logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
