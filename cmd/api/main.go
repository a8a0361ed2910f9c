package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lumenchat/backend/internal/ai"
	"github.com/lumenchat/backend/internal/chat"
	"github.com/lumenchat/backend/internal/config"
	"github.com/lumenchat/backend/internal/db"
	"github.com/lumenchat/backend/internal/httpapi"
	"github.com/lumenchat/backend/internal/httpapi/handlers"
	"github.com/lumenchat/backend/internal/logger"
	"github.com/lumenchat/backend/internal/store/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.ForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}

	reg, err := ai.BuildRegistry(ai.ClientConfig{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GroqAPIKey:      cfg.GroqAPIKey,
		GroqBaseURL:     cfg.GroqBaseURL,
	})
	if err != nil {
		log.Fatal("build provider registry", zap.Error(err))
	}

	svc := chat.NewService(chat.NewRepo(gdb), reg, log)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect", zap.Error(err))
	}
	defer pub.Close()

	h := handlers.NewHandler(svc, pub, log)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(h, log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http serve", zap.Error(err))
		}
	}()
	log.Info("api listening", zap.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
