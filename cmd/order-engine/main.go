package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akashsreedhar/order-engine/internal/cache"
	"github.com/akashsreedhar/order-engine/internal/catalog"
	"github.com/akashsreedhar/order-engine/internal/events"
	enginehttp "github.com/akashsreedhar/order-engine/internal/http"
	"github.com/akashsreedhar/order-engine/internal/orders"
	"github.com/akashsreedhar/order-engine/internal/payment"
	"github.com/akashsreedhar/order-engine/internal/ratelimit"
	"github.com/akashsreedhar/order-engine/internal/submit"
	"github.com/akashsreedhar/order-engine/internal/validator"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log.Println("order-engine starting...")

	// Configuration
	httpPort := getEnv("HTTP_PORT", "8090")
	catalogURL := getEnv("CATALOG_URL", "http://localhost:8081")
	paymentURL := getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8082")
	paymentSecret := getEnv("PAYMENT_SIGNING_SECRET", "dev-secret")
	authorityURL := getEnv("RATE_AUTHORITY_URL", "") // empty: local policy only
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	mongoURI := getEnv("MONGO_URI", "mongodb://localhost:27017")
	mongoDB := getEnv("MONGO_DB", "storefront")
	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	timezone := getEnv("STORE_TIMEZONE", "Asia/Kolkata")
	requestTimeout := 30 * time.Second

	// Database setup
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "storefront")
	migrationsPath := getEnv("MIGRATIONS_PATH", "./internal/orders/migrations")

	port, err := strconv.Atoi(dbPort)
	if err != nil {
		log.Fatalf("Invalid DB_PORT: %v", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Fatalf("Invalid STORE_TIMEZONE: %v", err)
	}

	creds := &orders.Credentials{
		Host:              dbHost,
		Port:              port,
		User:              dbUser,
		Password:          dbPass,
		DBName:            dbName,
		MigrationsDirPath: migrationsPath,
	}

	orderStore, err := orders.NewPostgresStore(creds)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer orderStore.Close()

	if err := orderStore.RunMigrations(creds); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Validation cache
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()
	priceCache := cache.NewRedisCache(redisClient)

	// Rate limit state store
	mongoCtx, cancelMongo := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelMongo()
	mongoClient, err := mongo.Connect(mongoCtx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to mongo: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf("mongo disconnect error: %v", err)
		}
	}()
	stateStore := ratelimit.NewMongoStateStore(
		mongoClient.Database(mongoDB).Collection("rate_limit_state"))

	var authority ratelimit.Authority
	if authorityURL != "" {
		authority = ratelimit.NewHTTPAuthority(authorityURL)
		log.Printf("Using remote rate limit authority at %s", authorityURL)
	}

	limits := ratelimit.NewEngine(ratelimit.DefaultPolicy(), stateStore, orderStore, authority, loc)

	// Catalog and validation
	gateway := catalog.NewHTTPGateway(catalogURL)
	stockValidator := validator.New(gateway, priceCache)

	// Order events
	publisher := events.NewPublisher(strings.Split(kafkaBrokers, ",")...)
	defer publisher.Close()

	// Submission coordinator
	coordinator := submit.NewCoordinator(limits, stockValidator, orderStore, submit.Options{
		Payments: payment.NewHTTPGateway(paymentURL),
		Verifier: payment.NewVerifier(paymentSecret),
		Events:   publisher,
	})
	defer coordinator.Close()

	handler := enginehttp.NewCheckoutHandler(stockValidator, limits, coordinator, requestTimeout)
	router := enginehttp.NewRouter(handler, requestTimeout)

	srv := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      otelhttp.NewHandler(router, "order-engine"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("order-engine listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down order-engine...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("order-engine stopped")
}
