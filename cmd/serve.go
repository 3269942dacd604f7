package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpHdlr "github.com/MikeL71221ibpm/iBPM-sub011/handler/http"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/hub"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/storage/minioctrl"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/worker"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job progress server",
	Long:  `The serve command starts the HTTP server exposing the push stream, poll endpoint, job start and upload APIs.`,
	Run:   RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

func RunServer(cmd *cobra.Command, args []string) {
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional job archive in PostgreSQL
	var archive jobs.ArchiveRepository
	if viper.GetBool("postgres.enabled") {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			viper.GetString("postgres.host"),
			viper.GetString("postgres.user"),
			viper.GetString("postgres.password"),
			viper.GetString("postgres.db"),
			viper.GetString("postgres.port"))
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Error(err, "Failed to connect to database")
			return
		}
		archive, err = jobs.NewPostgresArchive(db)
		if err != nil {
			log.Error(err, "Failed to initialize job archive")
			return
		}
	}

	// In-process pub/sub between the record store and the push hub
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewStdLogger(false, false))
	defer pubSub.Close()

	store, err := jobs.NewStore(pubSub, archive)
	if err != nil {
		log.Error(err, "Failed to create job store")
		return
	}

	pushHub := hub.New(pubSub, viper.GetInt("hub.outbox_size"))
	go func() {
		if err := pushHub.Run(baseCtx); err != nil && baseCtx.Err() == nil {
			log.Error(err, "Push hub stopped")
		}
	}()

	runner := worker.NewRunner(store)

	// Initialize MinIO-backed upload storage
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		false,
	)
	if err != nil {
		log.Error(err, "Failed to create MinIO client")
		return
	}
	uploadBucket := viper.GetString("minio.upload_bucket")
	if err := minioService.EnsureBucketExists(baseCtx, uploadBucket); err != nil {
		log.Error(err, "Failed to ensure upload bucket exists")
		return
	}

	// Initialize HTTP handler
	handler := httpHdlr.NewHandler(baseCtx, store, pushHub, runner, minioService, uploadBucket)

	// Setup gin router
	r := gin.Default()

	// Register routes
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()
	log.Info("Server started", "port", viper.GetString("server.port"))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	// Stop workers and the hub
	cancel()
	runner.Wait()

	log.Info("Server exited")
}
