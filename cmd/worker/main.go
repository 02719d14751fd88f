package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkin/internal/archive"
	"checkin/internal/config"
	"checkin/internal/ledger"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker consumes check-in outcomes from the queue and persists them to the
// Postgres archive for durable audit and export.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:records")
	}

	repo := archive.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for records...")
	for msg := range messages {
		if msg.Type != "record" {
			continue
		}

		var rec ledger.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Printf("malformed record payload: %v", err)
			continue
		}

		if err := repo.InsertRecord(ctx, rec); err != nil {
			log.Printf("archive insert failed for %s: %v", rec.ID, err)
			continue
		}
		log.Printf("archived record %s (%s/%s %s)", rec.ID, rec.SessionID, rec.StudentID, rec.Outcome)

		time.Sleep(10 * time.Millisecond) // Small delay between processing
	}

	log.Println("worker stopped")
}
