package web

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/pkg/metrics"
	"github.com/ottermq/otterlane/web/handlers/api"
	"github.com/ottermq/otterlane/web/handlers/api_admin"
	"github.com/ottermq/otterlane/web/middleware"
)

type WebServer struct {
	config *Config
	Broker *broker.Broker
	app    *fiber.App
}

type Config struct {
	Username         string
	Password         string
	JwtKey           string
	JwtTTL           time.Duration
	WebServerPort    string
	ApiPrefix        string
	EnableMetrics    bool
	MetricsNamespace string
}

func NewWebServer(config *Config, broker *broker.Broker) (*WebServer, error) {
	if config.ApiPrefix == "" {
		config.ApiPrefix = "/api"
	}
	if config.JwtTTL <= 0 {
		config.JwtTTL = 24 * time.Hour
	}
	return &WebServer{
		config: config,
		Broker: broker,
	}, nil
}

// SetupApp builds the fiber app. Access logs go to logOutput; nil disables them.
func (ws *WebServer) SetupApp(logOutput io.Writer) *fiber.App {
	app := ws.configServer(logOutput)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return api.Health(c, ws.Broker)
	})
	if ws.config.EnableMetrics {
		exporter := metrics.NewPrometheusExporter(ws.config.MetricsNamespace, ws.Broker.GetCollector())
		app.Get("/metrics", adaptor.HTTPHandler(exporter.Handler()))
		log.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	ws.AddApi(app)
	ws.app = app
	return app
}

func (ws *WebServer) AddApi(app *fiber.App) {
	creds := api_admin.Credentials{
		Username: ws.config.Username,
		Password: ws.config.Password,
		Secret:   ws.config.JwtKey,
		TTL:      ws.config.JwtTTL,
	}
	// Public API routes
	app.Post(ws.config.ApiPrefix+"/login", func(c *fiber.Ctx) error {
		return api_admin.Login(c, creds)
	})
	app.Get(ws.config.ApiPrefix+"/overview/broker", func(c *fiber.Ctx) error {
		return api.GetBasicBrokerInfo(c, ws.Broker)
	})

	// Protected API routes
	apiGrp := app.Group(ws.config.ApiPrefix, middleware.JwtMiddleware(ws.config.JwtKey))
	apiGrp.Get("/overview", func(c *fiber.Ctx) error {
		return api.GetOverview(c, ws.Broker)
	})

	// Queue routes
	apiGrp.Get("/queues", func(c *fiber.Ctx) error {
		return api.ListQueues(c, ws.Broker)
	})
	apiGrp.Get("/queues/:vhost/:queue", func(c *fiber.Ctx) error {
		return api.GetQueue(c, ws.Broker)
	})
	apiGrp.Put("/queues/:vhost/:queue", func(c *fiber.Ctx) error {
		return api.CreateQueue(c, ws.Broker)
	})
	apiGrp.Delete("/queues/:vhost/:queue", func(c *fiber.Ctx) error {
		return api.DeleteQueue(c, ws.Broker)
	})
	apiGrp.Delete("/queues/:vhost/:queue/contents", func(c *fiber.Ctx) error {
		return api.PurgeQueue(c, ws.Broker)
	})

	// Message routes
	apiGrp.Get("/queues/:vhost/:queue/messages", func(c *fiber.Ctx) error {
		return api.GetMessages(c, ws.Broker)
	})
	apiGrp.Post("/queues/:vhost/:queue/messages", func(c *fiber.Ctx) error {
		return api.PublishMessage(c, ws.Broker)
	})

	// Wire routes
	apiGrp.Post("/wire/deliveries/:action", func(c *fiber.Ctx) error {
		return api.SettleWire(c, ws.Broker)
	})
	apiGrp.Delete("/wire/consumers/:consumer", func(c *fiber.Ctx) error {
		return api.DisconnectConsumer(c, ws.Broker)
	})
	apiGrp.Post("/wire/:protocol/:queue", func(c *fiber.Ctx) error {
		return api.SendWire(c, ws.Broker)
	})
	apiGrp.Post("/wire/:protocol/:queue/receive", func(c *fiber.Ctx) error {
		return api.ReceiveWire(c, ws.Broker)
	})
}

// Listen serves until the app is shut down.
func (ws *WebServer) Listen() error {
	if ws.app == nil {
		ws.SetupApp(nil)
	}
	addr := ":" + ws.config.WebServerPort
	log.Info().Str("addr", addr).Msg("Starting web server")
	return ws.app.Listen(addr)
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.app == nil {
		return nil
	}
	return ws.app.ShutdownWithContext(ctx)
}

func (ws *WebServer) configServer(logOutput io.Writer) *fiber.App {
	config := fiber.Config{
		Prefork:               false,
		AppName:               "otterlane-management",
		DisableStartupMessage: true,
	}
	app := fiber.New(config)

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CORSMiddleware())

	if logOutput != nil {
		app.Use(logger.New(logger.Config{
			Output: logOutput,
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		}))
	}
	return app
}
