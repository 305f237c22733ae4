package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Router chi 路由封装
type Router struct {
	mux    chi.Router
	logger *zap.Logger
}

// NewRouter 创建路由并挂载通用中间件
func NewRouter(logger *zap.Logger, corsOrigins []string) *Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger(logger))
	mux.Use(middleware.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		MaxAge:         300,
	}))

	return &Router{mux: mux, logger: logger}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTriageRoutes 注册分诊 API；feed 为 nil 时不提供 websocket
func (r *Router) RegisterTriageRoutes(h *TriageHandler, feed *QueueFeed) {
	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Post("/triage", h.Submit)

		api.Get("/queue", h.Queue)
		api.Get("/queue/export.xlsx", h.Export)
		if feed != nil {
			api.Get("/queue/ws", feed.Serve)
		}

		api.Get("/intake-events/{id}", h.GetEvent)
		api.Post("/intake-events/{id}/override", h.Override)
		api.Post("/intake-events/{id}/seen", h.MarkSeen)

		api.Get("/complaints", h.Complaints)
		api.Get("/override-reasons", h.OverrideReasons)
		api.Get("/rules", h.Rules)
	})
}

// RegisterDoctorRoutes 注册诊断路由
func (r *Router) RegisterDoctorRoutes(doctor *DoctorHandler) {
	r.mux.Get("/health", doctor.HealthCheck)
	r.mux.Get("/healthz", doctor.HealthCheck)
	r.mux.Get("/ready", doctor.Ready)
	r.mux.Get("/readyz", doctor.Ready)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("HTTP request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	}
}
