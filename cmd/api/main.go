package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maktaba-api/internal/cache"
	"maktaba-api/internal/config"
	"maktaba-api/internal/handler"
	"maktaba-api/internal/location"
	"maktaba-api/internal/prayer"
	"maktaba-api/internal/repository"
	"maktaba-api/internal/router"
	"maktaba-api/internal/service"
	"maktaba-api/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Maktaba API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize the persistent cache tier based on config. Init failures
	// are warnings, not fatal: the cache degrades to memory-only.
	var persistent store.Store
	switch cfg.Store.Type {
	case "badger":
		persistent = store.NewBadgerStore(cfg.Store.BadgerDir)
		log.Println("Badger store selected")
	case "redis":
		persistent = store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.Store.RedisAddress(),
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		log.Println("Redis store selected")
	default: // sqlite
		persistent = store.NewSQLiteStore(cfg.Store.Path)
		log.Println("SQLite store selected")
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	if err := persistent.Init(initCtx); err != nil {
		log.Printf("Warning: persistent store unavailable, running memory-only: %v", err)
	}
	cancelInit()
	defer persistent.Close()

	// Tiered cache shared by every consumer.
	tiered := cache.NewTiered(persistent)

	// Location resolution chain.
	sensor := location.NewIPSensor(cfg.Location.SensorEndpoint)
	geocoder := location.NewGeocoder(location.GeocoderConfig{
		ReverseURL:     cfg.Location.GeocodeReverseURL,
		Relays:         cfg.Location.GeocodeRelays,
		AttemptTimeout: cfg.Location.GeocodeAttemptTimeout,
		CacheTTL:       cfg.Location.GeocodeCacheTTL,
	}, tiered)
	resolver := location.NewResolver(location.ResolverConfig{
		SensorTimeout: cfg.Location.SensorTimeout,
		CacheTTL:      cfg.Location.CacheTTL,
		Fallback: location.FallbackLocation{
			Latitude:  cfg.Location.FallbackLatitude,
			Longitude: cfg.Location.FallbackLongitude,
			City:      cfg.Location.FallbackCity,
			Country:   cfg.Location.FallbackCountry,
		},
	}, tiered, sensor, geocoder)

	// Prayer-times oracle.
	timingsClient := prayer.NewClient(prayer.ClientConfig{
		BaseURL: cfg.Prayer.APIBaseURL,
		Method:  cfg.Prayer.Method,
		Timeout: cfg.Prayer.APITimeout,
	})
	oracle := prayer.NewService(prayer.ServiceConfig{
		StaleAfter:        cfg.Prayer.StaleAfter,
		TickInterval:      cfg.Prayer.TickInterval,
		DateCheckInterval: cfg.Prayer.DateCheckInterval,
	}, tiered, resolver, timingsClient)
	defer oracle.Close()

	oracleCtx, cancelOracle := context.WithTimeout(context.Background(), 60*time.Second)
	if err := oracle.Init(oracleCtx); err != nil {
		log.Printf("Warning: prayer oracle started without schedule: %v", err)
	}
	cancelOracle()

	// Document library on MySQL (optional - degraded mode without it).
	var libraryRepo repository.LibraryRepository
	if mysqlRepo, err := repository.NewMySQLLibraryRepository(cfg.Library.DSN()); err != nil {
		log.Printf("Warning: MySQL connection failed, library runs degraded: %v", err)
	} else {
		libraryRepo = mysqlRepo
		defer mysqlRepo.Close()
	}
	libraryService := service.NewLibraryService(libraryRepo, tiered)

	// Periodic expiry sweep.
	sweeper := service.NewSweepScheduler(tiered, service.SweepConfig{
		Interval: cfg.Store.SweepInterval,
	})
	sweeper.Start()
	defer sweeper.Stop()

	// HTTP surface.
	r := router.New(router.Config{
		Handler:        handler.New(cfg.App.Version, persistent),
		PrayerHandler:  handler.NewPrayerHandler(oracle),
		LibraryHandler: handler.NewLibraryHandler(libraryService),
		AdminHandler:   handler.NewAdminHandler(tiered),
	})

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
