package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrqueue/src/core/job"
	"ocrqueue/src/storage/minioctrl"
)

// openDatabase connects to PostgreSQL. TranslateError is required so the job
// store can detect duplicate-key inserts.
func openDatabase() (*gorm.DB, error) {
	host := viper.GetString("postgres.host")
	user := viper.GetString("postgres.user")
	password := viper.GetString("postgres.password")
	dbname := viper.GetString("postgres.db")
	port := viper.GetString("postgres.port")

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		host, user, password, dbname, port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	return db, nil
}

func newObjectService() (*minioctrl.ObjectService, error) {
	return minioctrl.NewObjectService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
}

func jobServiceConfig() job.Config {
	expiry, err := time.ParseDuration(viper.GetString("jobs.presign_expiry"))
	if err != nil || expiry <= 0 {
		expiry = time.Hour
	}

	return job.Config{
		Bucket:         viper.GetString("jobs.bucket"),
		Topic:          viper.GetString("jobs.topic"),
		MaxUploadBytes: viper.GetInt64("jobs.max_upload_bytes"),
		AllowedTypes:   viper.GetStringSlice("jobs.allowed_types"),
		PresignExpiry:  expiry,
	}
}
