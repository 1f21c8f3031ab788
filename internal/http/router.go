// Package httpapi wires the HTTP transport (Gin) to the rate services,
// middleware and handlers.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// Rule mutations are additionally rate limited per hotel and client; rate
// reads are gzip-compressed.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/http/handlers"
	"github.com/tbourn/go-rate-engine/internal/http/middleware"
	"github.com/tbourn/go-rate-engine/internal/services"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"}
	corsExpose  = []string{"X-Request-ID", "ETag", "Retry-After", "Content-Length"}
)

// RegisterRoutes attaches middleware and endpoints to r. The dispatcher is
// shared with any worker pool running in the same process so that accepted
// mutations wake it.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, disp *services.Dispatcher, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false, // must stay false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(db))

	rules := services.NewRuleService(db, nil, disp)
	h := handlers.New(rules, &services.RateReader{DB: db}, &services.JobService{DB: db, Dispatcher: disp})

	api := groupWithPrefix(r, cfg.APIBasePath)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByHotelAndIP())
	hotel := api.Group("/hotels/:hotel_id", rl.Handler())
	{
		hotel.POST("/feature-rates", h.CreateFeatureRate)
		hotel.PUT("/feature-rates/:id", h.UpdateFeatureRate)
		hotel.DELETE("/feature-rates/:id", h.DeleteFeatureRate)

		hotel.POST("/extra-occupancy", h.CreateExtraOccupancy)
		hotel.PUT("/extra-occupancy/:id", h.UpdateExtraOccupancy)
		hotel.DELETE("/extra-occupancy/:id", h.DeleteExtraOccupancy)

		hotel.POST("/derived-settings", h.CreateDerivedSetting)
		hotel.PUT("/derived-settings/:id", h.UpdateDerivedSetting)
		hotel.DELETE("/derived-settings/:id", h.DeleteDerivedSetting)

		hotel.PUT("/rounding", h.PutRoundingRule)
		hotel.DELETE("/rounding", h.DeleteRoundingRule)
	}

	api.GET("/rates", gzip.Gzip(gzip.DefaultCompression), h.GetRates)

	jobs := api.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/requeue", h.RequeueJob)
	}
}

// health reports ok when the store answers a ping.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unreachable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail to bind.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
