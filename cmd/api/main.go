//	@title			Imagebox API
//	@version		1.0
//	@description	HTTP image asset service: uploads, on-demand variants with derivative caching, pluggable storage disks.
//
//	@host		localhost:8080
//	@BasePath	/api
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/imagebox/service/internal/config"
	"github.com/imagebox/service/internal/images"
	"github.com/imagebox/service/internal/index"
	appMiddleware "github.com/imagebox/service/internal/middleware"
	"github.com/imagebox/service/internal/storage"

	_ "github.com/imagebox/service/docs/swagger"
)

func main() {
	cfg := config.Load()

	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Disks: local is always present; object stores join when configured.
	localBase := cfg.LocalBaseURL
	if localBase == "" {
		localBase = cfg.BaseURL + "/files"
	}
	local, err := storage.NewLocalBackend(cfg.LocalRoot, localBase)
	if err != nil {
		log.Fatal().Err(err).Msg("local disk init failed")
	}
	disks := map[string]storage.Backend{"local": local}

	if cfg.S3Bucket != "" {
		s3, err := storage.NewS3Backend(storage.S3Config{
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			UseSSL:     cfg.S3UseSSL,
			PublicBase: cfg.S3PublicBase,
			Timeout:    cfg.StorageTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("s3 disk init failed")
		}
		disks["s3"] = s3
	}

	if cfg.AzureConnectionString != "" && cfg.AzureContainer != "" {
		azure, err := storage.NewAzureBackend(storage.AzureConfig{
			ConnectionString: cfg.AzureConnectionString,
			Container:        cfg.AzureContainer,
			Timeout:          cfg.StorageTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("azure disk init failed")
		}
		disks["azure"] = azure
	}

	if cfg.GCSBucket != "" {
		gcsDisk, err := storage.NewGCSBackend(context.Background(), storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			Timeout:         cfg.StorageTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("gcs disk init failed")
		}
		disks["gcs"] = gcsDisk
	}

	router, err := storage.NewRouter(cfg.DefaultDisk, disks)
	if err != nil {
		log.Fatal().Err(err).Msg("storage router init failed")
	}
	log.Info().Strs("disks", router.Names()).Str("default", router.DefaultDisk()).Msg("storage configured")

	// Asset index
	var idx index.Index
	switch cfg.IndexDriver {
	case "badger":
		idx, err = index.NewBadgerIndex(cfg.IndexPath)
	case "postgres":
		idx, err = index.NewPostgresIndex(context.Background(), cfg.DatabaseURL)
	default:
		log.Fatal().Str("driver", cfg.IndexDriver).Msg("unknown INDEX_DRIVER")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("asset index init failed")
	}
	defer idx.Close()

	// Image pipeline
	working, err := storage.NewLocalBackend(cfg.WorkingDir, "")
	if err != nil {
		log.Fatal().Err(err).Msg("working dir init failed")
	}
	cache, err := images.NewDerivativeCache(cfg.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Msg("derivative cache init failed")
	}
	imageSvc := images.NewService(router, idx, working, cache, images.NewTransformer(), cfg.BaseURL, cfg.MaxUploadBytes)
	imageHandler := images.NewHandler(imageSvc)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI, served at /swagger/index.html
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Local disk objects, so local url()s resolve like object-store ones do.
	r.Handle("/files/*", staticFiles(cfg.LocalRoot))

	r.Route("/api", func(r chi.Router) {
		// Public read endpoints
		r.Get("/image/{id}", imageHandler.GetOriginal)
		r.Get("/image/{id}/{size}/{format}", imageHandler.GetVariant)
		r.Get("/info/{id}", imageHandler.GetInfo)
		r.Get("/images", imageHandler.List)

		// Protected mutations and signing
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			r.Post("/upload", imageHandler.Upload)
			r.Delete("/image/{id}", imageHandler.Delete)
			r.Get("/image/{id}/url", imageHandler.GetTemporaryURL)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}

// staticFiles serves stored objects from the local disk root. Directory
// requests are refused so the object tree cannot be enumerated.
func staticFiles(root string) http.Handler {
	files := http.StripPrefix("/files/", http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
