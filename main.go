package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"right-rider/background"
	"right-rider/controller"
	"right-rider/infra"
	"right-rider/metrics"
	"right-rider/model"
	otelMiddleware "right-rider/middleware"
	"right-rider/service"
	"right-rider/service/interfaces"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Port        int    `help:"服務監聽端口" short:"p" default:"8090"`
	Config      string `help:"設定檔路徑" default:"config.yml"`
	OrderID     string `help:"要監看的訂單ID（寫入 session）"`
	Pickup      string `help:"上車地點（寫入 session）"`
	Destination string `help:"目的地（寫入 session）"`
	Token       string `help:"乘客 token，覆蓋 config.yml 的 api.rider_token"`
	ClientToken string `help:"短效客戶端 token（寫入 session）"`
	SessionID   string `help:"Redis session ID，省略時自動產生"`
}

type AppServices struct {
	Redis    *infra.Redis
	RabbitMQ *infra.RabbitMQ
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		if err := infra.LoadConfig(options.Config); err != nil {
			log.Fatal().Err(err).Str("path", options.Config).Msg("讀取設定檔失敗")
		}

		infra.InitLogger(infra.ServiceName)

		otelConfig := otelMiddleware.NewOtelConfig(infra.ServiceName, infra.AppConfig)
		otelCleanup, err := otelMiddleware.InitOpenTelemetry(otelConfig, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("OpenTelemetry 初始化失敗")
		}

		if err := otelMiddleware.InitPrometheusMetrics(log.Logger); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics 初始化失敗，將繼續運行")
		}
		if err := metrics.InitWatcherMetrics(otelMiddleware.GetPrometheusRegistry()); err != nil {
			log.Error().Err(err).Msg("Watcher metrics 初始化失敗，將繼續運行")
		}

		services := initializeServices()

		sessionStore, err := newSessionStore(services, options.SessionID)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化 session 失敗")
		}
		pushChannel := newPushChannel(services)

		riderToken := infra.AppConfig.API.RiderToken
		if options.Token != "" {
			riderToken = options.Token
		}
		statusClient := service.NewOrderStatusClient(log.Logger, infra.AppConfig.API.BaseURL, riderToken, infra.AppConfig.APITimeout())

		navigator := service.NewRouteRecorder(log.Logger, model.RouteSearching)

		watchService := service.NewWatchService(log.Logger, sessionStore, statusClient, pushChannel, navigator, background.OrderWatcherConfig{
			PollInterval:      infra.AppConfig.PollInterval(),
			CancelRemoteOrder: infra.AppConfig.Watcher.CancelOrderOnExit,
			CancelTimeout:     infra.AppConfig.APITimeout(),
		})

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

		apiConfig := huma.DefaultConfig("Right Rider API", infra.AppConfig.App.AppVersion)
		apiConfig.Info.Description = "乘客端尋找司機中畫面的監看狀態"
		api := humachi.New(router, apiConfig)
		api.UseMiddleware(otelMiddleware.OpenTelemetryMiddleware(otelConfig))
		api.UseMiddleware(otelMiddleware.PrometheusMiddleware(log.Logger))

		controller.NewWatchController(log.Logger, watchService).RegisterRoutes(api)

		watchEvents := controller.NewWatchEventsController(log.Logger, watchService.Status)
		navigator.OnNavigate(watchEvents.BroadcastNavigation)
		router.Get("/watch/events", watchEvents.GetSSEHandler())

		hooks.OnStart(func() {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := watchService.SeedSession(ctx, options.OrderID, options.Pickup, options.Destination, options.ClientToken); err != nil {
				log.Fatal().Err(err).Msg("寫入 session 失敗")
			}

			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", options.Port),
				Handler: router,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("服務器啟動失敗")
				}
			}()
			log.Info().Int("port", options.Port).Msg("啟動 Right Rider 服務")

			snapshot, err := watchService.StartFromSession(ctx)
			if err != nil && !errors.Is(err, background.ErrMissingOrderID) {
				log.Error().Err(err).Msg("開始監看失敗")
			} else if err == nil {
				log.Info().Str("order_id", snapshot.OrderID).Str("watch_id", snapshot.WatchID).Msg("尋找司機中")
			}

			waitForExit(ctx, navigator)

			watchService.Stop()

			log.Info().Msg("正在關閉服務器...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("服務器關閉錯誤")
			}
			if otelCleanup != nil {
				otelCleanup()
			}
			cleanupServices(services)
			log.Info().Msg("服務器已關閉")
		})
	})
	cli.Run()
}

// waitForExit 直到離開尋找司機畫面或收到訊號
func waitForExit(ctx context.Context, navigator *service.RouteRecorder) {
	if navigator.Current() != model.RouteSearching {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("收到停止訊號")
			return
		case nav := <-navigator.Changed():
			if nav.Route != model.RouteSearching {
				log.Info().Str("route", string(nav.Route)).Msg("已離開尋找司機畫面")
				return
			}
		}
	}
}

func initializeServices() *AppServices {
	services := &AppServices{}
	cfg := infra.AppConfig

	if cfg.Session.Backend == "redis" || model.PushTransport(cfg.Push.Transport) == model.PushTransportRedis {
		redisClient, err := infra.ConnectRedis(context.Background(), cfg, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("Redis連接失敗 (繼續運行)")
		} else {
			services.Redis = redisClient
		}
	}

	if model.PushTransport(cfg.Push.Transport) == model.PushTransportAMQP {
		rabbitMQ, err := infra.ConnectRabbitMQ(cfg, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ連接失敗 (繼續運行)")
		} else {
			services.RabbitMQ = rabbitMQ
		}
	}

	return services
}

func newSessionStore(services *AppServices, sessionID string) (interfaces.SessionStore, error) {
	if infra.AppConfig.Session.Backend != "redis" {
		return service.NewMemorySessionStore(), nil
	}
	if services.Redis == nil {
		return nil, errors.New("session 設定為 redis 但 Redis 未連接")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log.Info().Str("session_id", sessionID).Msg("使用 Redis session")
	return service.NewRedisSessionStore(log.Logger, services.Redis.Client, sessionID, infra.AppConfig.SessionTTL()), nil
}

// newPushChannel 推播不可用時回傳 nil，監看只靠輪詢
func newPushChannel(services *AppServices) interfaces.PushChannel {
	switch model.PushTransport(infra.AppConfig.Push.Transport) {
	case model.PushTransportWebSocket:
		return service.NewWebSocketPushChannel(log.Logger, infra.AppConfig.Push.WebSocketURL)
	case model.PushTransportRedis:
		if services.Redis != nil {
			return service.NewRedisPushChannel(log.Logger, services.Redis.Client)
		}
	case model.PushTransportAMQP:
		if services.RabbitMQ != nil {
			return service.NewAMQPPushChannel(log.Logger, services.RabbitMQ)
		}
	case model.PushTransportNone:
		return nil
	}
	log.Warn().Str("transport", infra.AppConfig.Push.Transport).Msg("推播通道不可用，僅依賴輪詢")
	return nil
}

func cleanupServices(services *AppServices) {
	if services.Redis != nil {
		if err := services.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Redis關閉錯誤")
		}
	}
	if services.RabbitMQ != nil {
		if err := services.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("RabbitMQ關閉錯誤")
		}
	}
}
