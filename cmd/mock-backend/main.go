package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"right-rider/background"
	"right-rider/controller"
	"right-rider/infra"
	otelMiddleware "right-rider/middleware"
	"right-rider/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Port         int    `help:"服務監聽端口" short:"p" default:"8091"`
	Config       string `help:"設定檔路徑" default:"config.yml"`
	PublishRedis bool   `help:"司機指派時同時發布到 Redis"`
	PublishAMQP  bool   `help:"司機指派時同時發布到 RabbitMQ"`
	AutoDispatch bool   `help:"啟用自動派單（覆蓋 config.yml）"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		if err := infra.LoadConfig(options.Config); err != nil {
			log.Fatal().Err(err).Str("path", options.Config).Msg("讀取設定檔失敗")
		}

		infra.InitLogger("right-mock-backend")

		otelConfig := otelMiddleware.NewOtelConfig("right-mock-backend", infra.AppConfig)
		otelCleanup, err := otelMiddleware.InitOpenTelemetry(otelConfig, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("OpenTelemetry 初始化失敗")
		}
		if err := otelMiddleware.InitPrometheusMetrics(log.Logger); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics 初始化失敗，將繼續運行")
		}

		cfg := infra.AppConfig
		socketController := controller.NewOrderWatchSocketController(log.Logger, cfg.JWT.SecretKey)
		orderBook := service.NewOrderBook(log.Logger, socketController)

		var redisClient *infra.Redis
		if options.PublishRedis {
			redisClient, err = infra.ConnectRedis(context.Background(), cfg, log.Logger)
			if err != nil {
				log.Error().Err(err).Msg("Redis連接失敗 (繼續運行)")
			} else {
				orderBook.AddPublisher(infra.NewRedisEventManager(redisClient.Client, log.Logger))
			}
		}

		var rabbitMQ *infra.RabbitMQ
		if options.PublishAMQP {
			rabbitMQ, err = infra.ConnectRabbitMQ(cfg, log.Logger)
			if err != nil {
				log.Error().Err(err).Msg("RabbitMQ連接失敗 (繼續運行)")
			} else {
				orderBook.AddPublisher(rabbitMQ)
			}
		}

		var dispatcher *background.AutoDispatcher
		if cfg.Dispatch.Enabled || options.AutoDispatch {
			dispatcher = background.NewAutoDispatcher(log.Logger, orderBook, cfg.Dispatch.Spec,
				time.Duration(cfg.Dispatch.MinWaitSecs)*time.Second, cfg.Dispatch.DriverNames)
		}

		router := chi.NewRouter()
		router.Use(middleware.Logger)
		router.Use(middleware.Recoverer)
		router.Use(middleware.RequestID)
		router.Use(middleware.Heartbeat("/ping"))
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		router.Handle("/metrics", otelMiddleware.GetStandardPrometheusHandler())
		router.Get("/ws/order-watch", socketController.GetWebSocketHandler())

		apiConfig := huma.DefaultConfig("Right Mock Backend API", cfg.App.AppVersion)
		apiConfig.Info.Description = "開發用的訂單後端：訂單簿、訂單監看推播、自動派單"
		apiConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"bearerAuth": {
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer Token 認證",
			},
		}
		api := humachi.New(router, apiConfig)
		api.UseMiddleware(otelMiddleware.OpenTelemetryMiddleware(otelConfig))
		api.UseMiddleware(otelMiddleware.PrometheusMiddleware(log.Logger))

		clientTokenTTL := time.Duration(cfg.JWT.ClientTokenMinutes) * time.Minute
		controller.NewOrderController(log.Logger, orderBook, cfg.JWT.SecretKey, clientTokenTTL).RegisterRoutes(api)

		hooks.OnStart(func() {
			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", options.Port),
				Handler: router,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("服務器啟動失敗")
				}
			}()
			log.Info().
				Int("port", options.Port).
				Str("docs_url", fmt.Sprintf("http://localhost:%d/docs", options.Port)).
				Msg("啟動模擬後端")

			if dispatcher != nil {
				if err := dispatcher.Start(); err != nil {
					log.Error().Err(err).Msg("自動派單啟動失敗")
					dispatcher = nil
				}
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info().Msg("正在關閉服務器...")

			if dispatcher != nil {
				dispatcher.Stop()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("服務器關閉錯誤")
			}
			if redisClient != nil {
				redisClient.Close()
			}
			if rabbitMQ != nil {
				rabbitMQ.Close()
			}
			if otelCleanup != nil {
				otelCleanup()
			}
			log.Info().Msg("服務器已關閉")
		})
	})
	cli.Run()
}
