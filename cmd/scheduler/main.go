package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segyhp/loan-ledger/internal/app"
	"github.com/segyhp/loan-ledger/internal/config"
	"github.com/segyhp/loan-ledger/internal/service"
	"github.com/sirupsen/logrus"

	"github.com/robfig/cron/v3"
)

// accrualTimeout bounds a single accrual run.
const accrualTimeout = 10 * time.Minute

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := cfg.NewLogger()
	log.Info("starting fine accrual scheduler")

	application, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	loc := cfg.GetSchedulerLocation()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := c.AddFunc(cfg.Scheduler.AccrualSchedule, func() {
		runAccrual(application.Service, loc, log)
	}); err != nil {
		log.Fatalf("Invalid accrual schedule %q: %v", cfg.Scheduler.AccrualSchedule, err)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule": cfg.Scheduler.AccrualSchedule,
		"timezone": loc.String(),
	}).Info("scheduler started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	<-c.Stop().Done()
	log.Info("scheduler stopped")
}

// runAccrual accrues fines on every active loan as of today in loc.
// Accrual is idempotent per period, so a rerun on the same day is harmless.
func runAccrual(svc *service.LoanService, loc *time.Location, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), accrualTimeout)
	defer cancel()

	asOf := time.Now().In(loc)
	start := time.Now()

	fines, err := svc.AccrueFines(ctx, asOf, nil)
	entry := log.WithFields(logrus.Fields{
		"as_of":       asOf.Format(time.DateOnly),
		"fines":       len(fines),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("fine accrual finished with errors")
		return
	}
	entry.Info("fine accrual finished")
}
