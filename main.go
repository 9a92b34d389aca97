package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/miyagawa-lab/geonarrator/agent"
	"github.com/miyagawa-lab/geonarrator/config"
	"github.com/miyagawa-lab/geonarrator/database"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/handlers"
	"github.com/miyagawa-lab/geonarrator/repository"
	"github.com/miyagawa-lab/geonarrator/services"
	"github.com/miyagawa-lab/geonarrator/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		log.Fatalf("FATAL: Failed to migrate database schema: %v", err)
	}

	modelAgent, err := agent.New(cfg.LLMAgent, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OllamaHost, cfg.AgentVLM)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize model agent: %v", err)
	}

	repo := repository.NewImageRecordRepository(db)
	selector := services.NewCandidateSelector(repo)
	synthesizer := services.NewDescriptionSynthesizer(repo, modelAgent, selector, services.SynthesizerOptions{
		MaxAttempts:         cfg.ModelMaxAttempts,
		MaxConcurrentCalls:  cfg.MaxModelCalls,
		FrontAngle:          geo.DirectionRadians(cfg.FrontAngleDeg),
		UsePastExplanations: cfg.UsePastExplain,
	})

	log.Printf("Initializing describe worker pool (Workers: %d, Queue Size: %d)...", cfg.NumDescribeWorkers, cfg.DescribeQueueSize)
	describePool := workers.NewDescribePool(synthesizer, cfg.DescribeQueueSize, cfg.NumDescribeWorkers, 0)
	defer describePool.Stop()

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Model backend: %s", modelAgent.Name())

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsHandler.Handler)

	authHandler := handlers.NewAuthHandler(cfg)
	locationHandler := handlers.NewLocationHandler(selector, cfg.InitialLocation)
	descriptionHandler := handlers.NewDescriptionHandler(synthesizer)
	imageHandler := handlers.NewImageHandler(repo, describePool)
	editHandler := handlers.NewEditHandler(repo)

	r.Post("/login", authHandler.Login)
	r.Get("/logout", authHandler.Logout)
	r.Get("/config", locationHandler.GetConfig)

	r.Group(func(r chi.Router) {
		r.Use(authHandler.Middleware)

		r.Get("/locations", locationHandler.ListLocations)
		r.Get("/locations/{id}", locationHandler.GetLocation)

		r.Get("/description", descriptionHandler.Describe)
		r.Post("/description_with_live_image", descriptionHandler.DescribeWithLiveImage)
		r.Post("/stop_reason", descriptionHandler.StopReason)

		r.Post("/upload", imageHandler.Upload)
		r.Get("/export-images", imageHandler.Export)
		r.Post("/import-images", imageHandler.Import)
		r.Delete("/image/{id}", imageHandler.Delete)
		r.Delete("/image", imageHandler.DeleteAll)

		r.Post("/add_tag", editHandler.AddTag)
		r.Post("/remove_tag", editHandler.RemoveTag)
		r.Post("/clear_tag", editHandler.ClearTags)
		r.Post("/update_description", editHandler.UpdateDescription)
		r.Post("/update_floor", editHandler.UpdateFloor)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	serverAddr := ":" + port
	fmt.Printf("Server starting on http://localhost:%s\n", port)
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
