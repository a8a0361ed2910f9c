package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/lumenchat/backend/internal/ai"
	"github.com/lumenchat/backend/internal/chat"
	"github.com/lumenchat/backend/internal/config"
	"github.com/lumenchat/backend/internal/db"
	"github.com/lumenchat/backend/internal/logger"
	"github.com/lumenchat/backend/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, reg, log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency))

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.ReplyJob
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad message", zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, repo, m.JobID); err != nil {
					log.Warn("job failed",
						zap.Int("worker", workerID),
						zap.String("job_id", m.JobID),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed",
						zap.Int("worker", workerID),
						zap.String("job_id", m.JobID),
						zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, svc *chat.Service, repo *chat.Repo, jobID string) error {
	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	assistantMsg, err := svc.GenerateAssistantReplyAndInsert(ctx, j.UserID, j.ChatID, j.Model)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	return repo.MarkJobSucceeded(ctx, jobID, assistantMsg.ID)
}
