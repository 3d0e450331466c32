package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-investment-payments/app/service"
	"github.com/vibast-solutions/ms-go-investment-payments/config"
)

var workerMode bool

type batchJob struct {
	name     string
	interval func(cfg *config.Config) time.Duration
	run      func(ctx context.Context, s *service.PaymentService) error
}

var (
	reconcileJob = batchJob{
		name:     "reconcile",
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
		run: func(ctx context.Context, s *service.PaymentService) error {
			return s.RunReconcileBatch(ctx)
		},
	}
	expirePendingJob = batchJob{
		name:     "expire_pending",
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
		run: func(ctx context.Context, s *service.PaymentService) error {
			return s.RunExpirePendingBatch(ctx)
		},
	}
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Ask providers for the outcome of stale pending payments",
	Run:   func(_ *cobra.Command, _ []string) { runBatchJob(reconcileJob) },
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Cancel pending payments that outlived the checkout window",
	Run:   func(_ *cobra.Command, _ []string) { runBatchJob(expirePendingJob) },
}

func init() {
	rootCmd.AddCommand(reconcileCmd, expireCmd)
	expireCmd.AddCommand(expirePendingCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runBatchJob(job batchJob) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = service.WithCorrelationID(ctx, "job:"+job.name)

	if !workerMode {
		runJobOnce(ctx, job, paymentService)
		return
	}

	interval := job.interval(cfg)
	if interval <= 0 {
		logrus.WithField("job", job.name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJobOnce(ctx, job, paymentService)
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", job.name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJobOnce(ctx, job, paymentService)
		}
	}
}

func runJobOnce(ctx context.Context, job batchJob, paymentService *service.PaymentService) {
	start := time.Now()
	err := job.run(ctx, paymentService)
	entry := logrus.WithFields(logrus.Fields{
		"job":     job.name,
		"latency": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("job_failed")
		return
	}
	entry.Info("job_completed")
}
