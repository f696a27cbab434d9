// Package data provides the connection to the sink relational store and the
// diagnostics cache shared by every component of the loader engine.
package data

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Conn bundles the sink database pool and the diagnostics cache. It is
// constructed once at startup and passed down via constructor injection;
// no component reaches for a package-level global.
type Conn struct {
	DB                   *pgxpool.Pool
	Cache                *redis.Client
	ExecutionEnvironment string
	ReplicaName          string
}

type dbConnResult struct {
	conn *pgxpool.Pool
	err  error
}

type redisConnResult struct {
	client *redis.Client
	err    error
}

// InitConn connects to the sink Postgres database and the diagnostics Redis
// cache, retrying each with a bounded timeout, and returns the shared
// connection bundle plus a cleanup closure.
func InitConn(inContainer bool) (*Conn, func()) {
	dbHost := getEnv("SINK_DB_HOST", "db")
	dbPort := getEnv("SINK_DB_PORT", "5432")
	dbUser := getEnv("SINK_DB_USER", "postgres")
	dbName := getEnv("SINK_DB_NAME", "loader_engine")
	dbPassword := getEnv("SINK_DB_PASSWORD", "")

	redisHost := getEnv("REDIS_HOST", "cache")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	executionEnvironment := getEnv("ENVIRONMENT", "")
	if executionEnvironment == "" || executionEnvironment == "dev" || executionEnvironment == "development" {
		executionEnvironment = "dev"
	} else {
		executionEnvironment = "prod"
	}

	replicaName := resolveReplicaName()

	var dbURL string
	var cacheURL string

	encodedPassword := url.QueryEscape(dbPassword)

	if inContainer {
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", dbUser, encodedPassword, dbHost, dbPort, dbName)
		cacheURL = fmt.Sprintf("%s:%s", redisHost, redisPort)
	} else {
		dbURL = fmt.Sprintf("postgres://%s:%s@localhost:%s/%s", dbUser, encodedPassword, dbPort, dbName)
		cacheURL = fmt.Sprintf("localhost:%s", redisPort)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	dbResult := make(chan dbConnResult, 1)
	go func() {
		defer close(dbResult)
		var lastErr error
		for {
			select {
			case <-ctx.Done():
				dbResult <- dbConnResult{conn: nil, err: lastErr}
				return
			default:
				poolConfig, parseErr := pgxpool.ParseConfig(dbURL)
				if parseErr != nil {
					lastErr = parseErr
					time.Sleep(1 * time.Second)
					continue
				}

				poolConfig.MaxConns = 30
				poolConfig.MinConns = 5
				poolConfig.MaxConnLifetime = 60 * time.Minute
				poolConfig.MaxConnIdleTime = 5 * time.Minute
				poolConfig.HealthCheckPeriod = 30 * time.Second
				poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

				dbConn, err := pgxpool.ConnectConfig(ctx, poolConfig)
				if err != nil {
					lastErr = err
					time.Sleep(1 * time.Second)
					continue
				}
				dbResult <- dbConnResult{conn: dbConn, err: nil}
				return
			}
		}
	}()

	dbRes := <-dbResult
	if dbRes.err != nil {
		panic(fmt.Sprintf("failed to connect to sink database after 90 seconds. URL: %s, last error: %v", dbURL, dbRes.err))
	}
	if dbRes.conn == nil {
		panic(fmt.Sprintf("failed to connect to sink database after 90 seconds. URL: %s, error: connection is nil", dbURL))
	}

	redisCtx, redisCancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer redisCancel()

	redisResult := make(chan redisConnResult, 1)
	go func() {
		defer close(redisResult)
		var lastErr error
		for {
			select {
			case <-redisCtx.Done():
				redisResult <- redisConnResult{client: nil, err: lastErr}
				return
			default:
				opts := &redis.Options{
					Addr:            cacheURL,
					PoolSize:        20,
					MinIdleConns:    5,
					PoolTimeout:     60 * time.Second,
					ReadTimeout:     10 * time.Second,
					WriteTimeout:    10 * time.Second,
					MaxRetries:      5,
					MinRetryBackoff: 1 * time.Second,
					MaxRetryBackoff: 10 * time.Second,
					DialTimeout:     5 * time.Second,
				}
				if redisPassword != "" {
					opts.Password = redisPassword
				}

				cache := redis.NewClient(opts)
				err := cache.Ping(redisCtx).Err()
				if err != nil {
					lastErr = err
					time.Sleep(1 * time.Second)
					continue
				}
				redisResult <- redisConnResult{client: cache, err: nil}
				return
			}
		}
	}()

	redisRes := <-redisResult
	if redisRes.err != nil {
		panic(fmt.Sprintf("failed to connect to Redis after 90 seconds. URL: %s, last error: %v", cacheURL, redisRes.err))
	}

	localConn := &Conn{
		DB:                   dbRes.conn,
		Cache:                redisRes.client,
		ExecutionEnvironment: executionEnvironment,
		ReplicaName:          replicaName,
	}

	cleanup := func() {
		if localConn.DB != nil {
			localConn.DB.Close()
		}
		if localConn.Cache != nil {
			if err := localConn.Cache.Close(); err != nil {
				log.Printf("error closing redis cache connection: %v", err)
			}
		}
	}
	return localConn, cleanup
}

// resolveReplicaName builds a stable replica identity from the environment
// once at startup, per the "construct once, pass down" design note — never
// a package-level global read at call sites.
func resolveReplicaName() string {
	if name := getEnv("REPLICA_NAME", ""); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("replica-%d", time.Now().UnixNano())
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
