package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpHdlr "ocrqueue/handler/http"
	"ocrqueue/src/core/job"
	"ocrqueue/src/storage/postgres/jobctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job submission and status API",
	Long:  `The serve command starts the HTTP server that accepts OCR jobs and reports their status.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	settingDefaultConfig()
}

func runServer(cmd *cobra.Command, args []string) error {
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

	cfg := jobServiceConfig()
	if err := objectService.EnsureBucketExists(context.Background(), cfg.Bucket); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	// Initialize AMQP publisher
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	jobService := job.NewService(recordStore, objectService, amqpPublisher, cfg)

	jobHandler := httpHdlr.NewJobHandler(
		jobService,
		viper.GetString("jobs.api_key"),
		cfg.MaxUploadBytes,
	)

	// Setup gin router
	r := gin.Default()
	jobHandler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Printf("Invalid shutdown timeout: %v, using default 5s", err)
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
