package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Brownie44l1/leaf-doctor/internal/config"
	"github.com/Brownie44l1/leaf-doctor/internal/diagnosis"
	"github.com/Brownie44l1/leaf-doctor/internal/explainer"
	"github.com/Brownie44l1/leaf-doctor/internal/handlers"
	"github.com/Brownie44l1/leaf-doctor/internal/logging"
	"github.com/Brownie44l1/leaf-doctor/internal/model"
	"github.com/Brownie44l1/leaf-doctor/internal/treatment"
	"github.com/Brownie44l1/leaf-doctor/internal/upload"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	// If running from cmd/server, resolve relative paths from the project root.
	root, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get working directory: %v", err)
	}
	if filepath.Base(root) == "server" {
		root = filepath.Join(root, "../..")
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}

	modelPath := resolve(cfg.Model.ModelPath)
	logger.Info("loading model", "path", modelPath)

	modelServer, err := model.NewServer(modelPath, resolve(cfg.Model.MetadataPath), resolve(cfg.Model.ORTLibPath))
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	catalog, err := loadCatalog(resolve(cfg.Model.CatalogPath))
	if err != nil {
		log.Fatalf("Failed to load treatment catalog: %v", err)
	}

	ollama, err := explainer.NewOllama(cfg.Explainer.URL, cfg.Explainer.Model, &http.Client{})
	if err != nil {
		log.Fatalf("Failed to create Ollama client: %v", err)
	}

	service := diagnosis.New(modelServer, ollama, catalog, diagnosis.Options{
		ConfidenceThreshold: cfg.Diagnosis.ConfidenceThreshold,
		MaxResults:          cfg.Diagnosis.MaxResults,
		ClassifyTimeout:     cfg.Diagnosis.ClassifyTimeout,
		ExplainTimeout:      cfg.Diagnosis.ExplainTimeout,
		Logger:              logger,
	})

	store := upload.NewStore(resolve(cfg.Server.UploadDir), "/uploads")
	handler := handlers.NewHandler(service, store, handlers.Options{
		AllowedExtensions: cfg.Server.AllowedExtensions,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		Classes:           len(modelServer.Metadata.Classes),
		Explainer:         ollama,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Server.Port,
		"classes", len(modelServer.Metadata.Classes),
		"treatments", catalog.Len(),
		"ollama", cfg.Explainer.URL,
		"ollama_model", cfg.Explainer.Model)
	logger.Debug("endpoints", "routes", []string{"GET /", "POST /", "GET /uploads/", "GET /health"})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	<-idle
}

func loadCatalog(path string) (*treatment.Catalog, error) {
	if path == "" {
		return treatment.Default()
	}
	return treatment.Load(path)
}
