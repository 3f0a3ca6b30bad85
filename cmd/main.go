package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/clients/neo4jdb"
	"github.com/yungbote/diagramlab-backend/internal/clients/redis"
	"github.com/yungbote/diagramlab-backend/internal/clients/websearch"
	"github.com/yungbote/diagramlab-backend/internal/db"
	"github.com/yungbote/diagramlab-backend/internal/handlers"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/repos"
	"github.com/yungbote/diagramlab-backend/internal/server"
	"github.com/yungbote/diagramlab-backend/internal/services"
	"github.com/yungbote/diagramlab-backend/internal/sse"
	"github.com/yungbote/diagramlab-backend/internal/utils"
	"github.com/yungbote/diagramlab-backend/internal/visibility"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	port := utils.GetEnv("PORT", "8080", log)
	maxLabelsPerScene := utils.GetEnvAsInt("MAX_LABELS_PER_SCENE", 12, log)
	maxHierarchyDepth := utils.GetEnvAsInt("MAX_HIERARCHY_DEPTH", 3, log)

	// Priority config
	priorities := visibility.DefaultPriorityConfig()
	if path := strings.TrimSpace(os.Getenv("ZONE_PRIORITY_CONFIG")); path != "" {
		loaded, err := visibility.LoadPriorityConfig(path)
		if err != nil {
			log.Warn("Could not load priority config, using defaults", "path", path, "error", err)
		} else {
			priorities = loaded
		}
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	runRepo := repos.NewZonePlanRunRepo(thePG, log)
	zoneRepo := repos.NewZoneRecordRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Clients; each one is optional and degrades with a warning.
	log.Info("Setting up clients from main...")
	imageStore, err := gcp.NewImageStore(log)
	if err != nil {
		log.Error("Could not init image store", "error", err)
		os.Exit(1)
	}
	annotator, err := gcp.NewZoneAnnotator(log)
	if err != nil {
		log.Error("Could not init vision annotator", "error", err)
		os.Exit(1)
	}
	searcher, err := websearch.NewImageSearcher(log)
	if err != nil {
		log.Error("Could not init image searcher", "error", err)
		os.Exit(1)
	}

	var visibilityBus redis.VisibilityBus
	if bus, err := redis.NewVisibilityBus(log); err != nil {
		log.Warn("Redis visibility bus unavailable, events stay instance-local", "error", err)
	} else {
		visibilityBus = bus
		if err := bus.StartForwarder(context.Background(), sseHub.Broadcast); err != nil {
			log.Warn("Could not start redis forwarder", "error", err)
		}
	}

	var knowledgeService services.DomainKnowledgeService
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j unavailable, planning without domain knowledge", "error", err)
	} else if neoClient != nil {
		knowledgeService = services.NewDomainKnowledgeService(log, neoClient)
		defer neoClient.Close(context.Background())
	}

	collisionResolver, err := services.NewCollisionResolver(log)
	if err != nil {
		log.Warn("Collision resolver unavailable, zones pass through unresolved", "error", err)
		collisionResolver = services.NewPassthroughCollisionResolver()
	}

	// Services
	log.Info("Setting up Services from main...")
	acquisitionService := services.NewAcquisitionService(log, searcher, imageStore)
	detectionService := services.NewDetectionService(log, annotator, imageStore)
	plannerService := services.NewZonePlannerService(
		thePG,
		log,
		knowledgeService,
		acquisitionService,
		detectionService,
		collisionResolver,
		runRepo,
		zoneRepo,
		sseHub,
		priorities,
		services.ScenePolicy{MaxLabelsPerScene: maxLabelsPerScene, MaxHierarchyDepth: maxHierarchyDepth},
	)
	sessionService := services.NewZoneSessionService(log, runRepo, sseHub, visibilityBus)
	overlayService := services.NewOverlayService(log, imageStore)

	// Handlers
	log.Info("Setting up handlers from main...")
	zonePlanHandler := handlers.NewZonePlanHandler(log, plannerService, sessionService, overlayService, runRepo, zoneRepo)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ZonePlanHandler: zonePlanHandler,
		SSEHandler:      sseHandler,
	})

	log.Info("Starting HTTP server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("HTTP server exited", "error", err)
	}
}
