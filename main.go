package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegis-authz/aegis/audit"
	"github.com/aegis-authz/aegis/cache"
	"github.com/aegis-authz/aegis/config"
	"github.com/aegis-authz/aegis/db"
	logger "github.com/aegis-authz/aegis/logging"
	"github.com/aegis-authz/aegis/middleware"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/policy"
	"github.com/aegis-authz/aegis/resolver"
	"github.com/aegis-authz/aegis/router"
	"github.com/aegis-authz/aegis/store"
	"github.com/aegis-authz/aegis/util"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize EventBus
	eventBus := util.NewEventBus()
	eventBus.Start(ctx)

	cfg := config.GetConfig()

	// Pick the cache backend: Redis when reachable, in-memory otherwise.
	var (
		permCache      cache.PermissionCache
		ownershipCache cache.OwnershipCache
		failureCounter cache.FailureCounter
	)
	if err := db.InitRedis(); err != nil {
		logger.Warn("Redis unavailable, using in-memory caches", zap.Error(err))
		memCache := cache.NewMemoryPermissionCache(cfg.Authz.PermissionCacheTTL)
		memCache.StartSweeper(ctx, cfg.Authz.SweepInterval)
		permCache = memCache
		ownershipCache = cache.NewMemoryOwnershipCache(config.GetInt("authz.ownershipCacheSize"), cfg.Authz.OwnershipCacheTTL)
		failureCounter = cache.NewMemoryFailureCounter()
	} else {
		defer db.CloseRedis()
		permCache = cache.NewRedisPermissionCache(db.RedisClient, cfg.Authz.PermissionCacheTTL)
		ownershipCache = cache.NewRedisOwnershipCache(db.RedisClient, cfg.Authz.OwnershipCacheTTL)
		failureCounter = cache.NewRedisFailureCounter(db.RedisClient)
	}

	// Demo stores; production deployments supply their own.
	identityStore := store.NewMemoryIdentityStore()
	roleStore := store.NewMemoryRoleStore()
	documentStore := store.NewMemoryObjectStore()
	seedDemoData(identityStore, roleStore, documentStore)

	registry := policy.NewRegistry()
	registry.Register("documents", documentStore.Load)

	permResolver := resolver.NewPermissionResolver(identityStore, roleStore, permCache, eventBus)
	evaluator := policy.NewEvaluator(permResolver, registry, ownershipCache, failureCounter, policy.Config{
		AdminRole:          cfg.Authz.AdminRole,
		FailureMaxAttempts: cfg.Authz.FailureMaxAttempts,
		FailureWindow:      cfg.Authz.FailureWindow,
	})

	// Decision audit trail
	var auditRepo audit.Repository
	if config.GetBool("audit.useElasticsearch") {
		esRepo, err := audit.NewElasticsearchRepository(cfg.Elasticsearch.URL)
		if err != nil {
			logger.Fatal("Failed to initialize Elasticsearch audit repository", zap.Error(err))
		}
		auditRepo = esRepo
	} else {
		auditRepo = audit.NewMemoryRepository()
	}
	audit.SubscribeToDecisions(eventBus, audit.NewService(auditRepo))

	authorizer := middleware.NewAuthorizer(evaluator, eventBus)

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	engine := router.SetupRouter(authorizer, []byte(config.GetString("auth.jwtSecret")))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler: engine,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func seedDemoData(identities *store.MemoryIdentityStore, roles *store.MemoryRoleStore, documents *store.MemoryObjectStore) {
	roles.PutRole(model.Role{
		Name:        "admin",
		Permissions: []string{},
		IsActive:    true,
	})
	roles.PutRole(model.Role{
		Name:        "editor",
		Permissions: []string{"customers.read", "documents.read", "documents.update", "invoices.update", "transfers.create"},
		IsActive:    true,
	})
	roles.PutRole(model.Role{
		Name:        "viewer",
		Permissions: []string{"customers.read", "documents.read"},
		IsActive:    true,
	})

	identities.PutIdentity(model.Identity{ID: "u1", Role: "editor", Scopes: []string{"reports:read"}})
	identities.PutIdentity(model.Identity{ID: "u2", Role: "viewer"})
	identities.PutIdentity(model.Identity{ID: "root", Role: "admin", MFAEnabled: true})

	documents.PutObject("d1", model.Attributes{"id": "d1", "ownerId": "u1", "title": "Q3 forecast"})
}
