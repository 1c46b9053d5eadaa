package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ocrqueue/src/core/job"
	"ocrqueue/src/storage/postgres/jobctrl"
)

// submitCmd submits a local file as a job, bypassing the HTTP API. Useful for
// smoke-testing a deployment end to end.
var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a local file as an OCR job",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	settingDefaultConfig()
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

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

	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	cfg := jobServiceConfig()
	if err := objectService.EnsureBucketExists(context.Background(), cfg.Bucket); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	jobService := job.NewService(recordStore, objectService, amqpPublisher, cfg)

	j, err := jobService.Submit(context.Background(), job.SubmitRequest{
		Filename: filepath.Base(args[0]),
		Data:     data,
	})
	if err != nil {
		return err
	}

	fmt.Printf("job_id=%s status=%s\n", j.JobID, j.Status)
	return nil
}
