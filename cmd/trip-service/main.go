package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TripFlow/TripFlow/internal/audit"
	"github.com/TripFlow/TripFlow/internal/common/config"
	"github.com/TripFlow/TripFlow/internal/common/db"
	"github.com/TripFlow/TripFlow/internal/common/discovery"
	"github.com/TripFlow/TripFlow/internal/common/logger"
	"github.com/TripFlow/TripFlow/internal/common/middleware"
	"github.com/TripFlow/TripFlow/internal/common/tracing"
	"github.com/TripFlow/TripFlow/internal/driver"
	"github.com/TripFlow/TripFlow/internal/fleet"
	"github.com/TripFlow/TripFlow/internal/notify"
	"github.com/TripFlow/TripFlow/internal/request"
	"github.com/TripFlow/TripFlow/internal/vehicle"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/trip-service.json", "配置文件路径")
		consulKVKey = flag.String("consul-kv", "", "从 Consul KV 读取配置的 key（优先于本地文件）")
		consulHost  = flag.String("consul-host", "localhost", "Consul 地址（仅 -consul-kv 生效时使用）")
		consulPort  = flag.Int("consul-port", 8500, "Consul 端口")
	)
	flag.Parse()

	var cfg *config.Config
	var err error
	if *consulKVKey != "" {
		cfg, err = config.LoadConfigFromConsulKV(*consulHost, *consulPort, *consulKVKey)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	// InitTracer 已注册为全局 tracer，后续由 Tracing 中间件取用
	_, tracerCloser, err := tracing.InitTracer(cfg.Server.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.Sampler)
	if err != nil {
		log.Warnf("tracer disabled: %v", err)
	} else {
		defer tracerCloser.Close()
	}

	gormDB, err := db.NewMySQL(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Database,
		cfg.Database.MaxIdle, cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&request.Request{}, &request.ApprovalRecord{}, &request.AssignmentHistory{}, &request.Passenger{},
		&vehicle.Vehicle{}, &driver.Driver{},
		&audit.Entry{}, &notify.Notification{},
	); err != nil {
		log.Fatalf("migrate schema: %v", err)
	}

	store := notify.NewStoreDispatcher(gormDB)
	var dispatcher notify.Dispatcher = store
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewWebhookDispatcher(
			cfg.Notify.WebhookURL,
			time.Duration(cfg.Notify.TimeoutSec)*time.Second,
			cfg.Notify.MaxFailures,
		)
		dispatcher = notify.Multi(store, webhook)
	}

	svc := request.NewService(gormDB, dispatcher, log)
	requestHandler := request.NewHandler(svc, store, log)
	fleetHandler := fleet.NewHandler(gormDB, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.Recovery(log),
		middleware.AccessLog(log),
		middleware.Tracing(cfg.Server.Name),
		middleware.RateLimit(middleware.NewTokenBucket(1000, 500)),
	)
	if cfg.Auth.Enabled {
		engine.Use(middleware.JWTAuth(cfg.Auth, log), middleware.RBAC(cfg.Auth))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Server.Name})
	})
	api := engine.Group("/api/v1")
	requestHandler.RegisterRoutes(api)
	fleetHandler.RegisterRoutes(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 服务注册（Consul 不可用时降级为只打日志）
	var registry *discovery.ServiceRegistry
	if consulClient, cerr := discovery.NewConsulClient(cfg.Consul.Host, cfg.Consul.Port); cerr != nil {
		log.Warnf("consul client unavailable: %v", cerr)
	} else {
		serviceID := fmt.Sprintf("%s-%s", cfg.Server.Name, uuid.NewString()[:8])
		registry = discovery.NewServiceRegistry(
			consulClient, serviceID, cfg.Server.Name,
			cfg.Server.Host, cfg.Server.HTTPPort, []string{"tripflow", "http"},
		)
		if rerr := registry.Register(); rerr != nil {
			log.Warnf("consul register failed: %v", rerr)
			registry = nil
		} else if peers, perr := discovery.HealthyInstances(consulClient, cfg.Server.Name); perr != nil {
			log.Warnf("consul health query failed: %v", perr)
		} else {
			log.Infof("%s has %d healthy instance(s): %v", cfg.Server.Name, len(peers), peers)
		}
	}

	go func() {
		log.Infof("%s listening on %s", cfg.Server.Name, addr)
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Fatalf("http server: %v", serveErr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if registry != nil {
		if derr := registry.Deregister(); derr != nil {
			log.Warnf("consul deregister failed: %v", derr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
	log.Info("server stopped")
}
