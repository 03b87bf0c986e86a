// Package serve implements the serve command, the long-running
// inspection server.
package serve

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/conescan/conescan-go/internal/api"
	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/inference"
	"github.com/conescan/conescan-go/internal/intake"
	"github.com/conescan/conescan-go/internal/logging"
	"github.com/conescan/conescan-go/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inspection server",
		Long:  "Start the HTTP server providing image intake, classification and reporting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port for the HTTP server")
	cmd.Flags().StringVar(&settings.Inference.ServiceURL, "inference-url", viper.GetString("inference.serviceurl"), "Base URL of the YOLO inference service")
	cmd.Flags().StringVar(&settings.Upload.Dir, "upload-dir", viper.GetString("upload.dir"), "Directory for uploaded images")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}

func runServer(settings *conf.Settings) error {
	logging.Init()
	logger := log.Default()

	if err := datastore.InitializeLogger("logs/datastore.log"); err != nil {
		logger.Printf("Warning: failed to initialize datastore log: %v", err)
	}
	defer func() {
		if err := datastore.CloseLogger(); err != nil {
			logger.Printf("Warning: failed to close datastore log: %v", err)
		}
	}()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("Warning: failed to close datastore: %v", err)
		}
	}()

	if err := bootstrapAdmin(store); err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	var classifier intake.Classifier
	var inferenceClient *inference.Client
	if settings.Inference.ServiceURL != "" {
		inferenceClient = inference.NewClient(settings)
		classifier = inferenceClient
		defer inferenceClient.Close()
	} else {
		logger.Printf("No inference service configured, classification uses the colorimetric fallback only")
	}

	pipeline := intake.New(settings, store, classifier, metrics)

	server, err := api.NewServer(settings, store, pipeline, inferenceClient, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to build HTTP server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logger.Printf("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// bootstrapAdmin creates the initial admin account from the environment
// when no users exist yet. Without it a fresh install has no way to log in.
func bootstrapAdmin(store datastore.Interface) error {
	username := os.Getenv("CONESCAN_ADMIN_USER")
	password := os.Getenv("CONESCAN_ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}

	if _, err := store.GetUserByUsername(username); err == nil {
		return nil
	} else if !errors.HasCategory(err, errors.CategoryNotFound) {
		return fmt.Errorf("failed to check admin account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := store.CreateUser(&datastore.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         "admin",
	}); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	log.Printf("Created admin account %q from environment", username)
	return nil
}
