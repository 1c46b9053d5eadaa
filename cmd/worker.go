package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ocrqueue/src/core/job"
	"ocrqueue/src/storage/postgres/jobctrl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a job processing worker",
	Long: `The worker command starts one instance of the job coordination loop.
Any number of instances may run in parallel; coordination happens entirely
through the record store and the queue.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	settingDefaultConfig()
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Initialize logger
	logger := watermill.NewStdLogger(false, false)

	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %v", err)
	}
	defer sqlDB.Close()

	recordStore, err := jobctrl.NewJobStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %v", err)
	}

	objectService, err := newObjectService()
	if err != nil {
		return fmt.Errorf("failed to initialize object service: %v", err)
	}

	// Initialize AMQP subscriber. Nacked deliveries are not requeued by the
	// broker; together with a single in-process retry this realizes the
	// redeliver-once-then-drop policy.
	subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	subscriberConfig.Consume.NoRequeueOnNack = true
	amqpSubscriber, err := amqp.NewSubscriber(
		subscriberConfig,
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	// Initialize router
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}

	// Add middleware
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      1,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	worker := job.NewWorker(
		recordStore,
		objectService,
		job.SizeProbe{},
		viper.GetString("worker.id"),
		viper.GetString("worker.scratch_dir"),
	)

	// Add handler for processing job claims
	router.AddNoPublisherHandler(
		"job_processor",
		viper.GetString("jobs.topic"),
		amqpSubscriber,
		worker.Handle,
	)

	// Run the router
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := router.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
	}()

	log.Printf("worker started worker_id=%s", worker.WorkerID())

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Println("Shutting down...")
	cancel()
	<-router.Running()
	log.Println("Router stopped")

	return nil
}
