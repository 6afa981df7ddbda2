package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/identity"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
	"faceattend/internal/recognizer"
	"faceattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.Open(cfg.DatabaseURL, cfg.StorageTimeout)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("storage ready (%s)", db.Driver())

	loc := cfg.Location()

	var redisClient *store.Redis
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:export")
	} else {
		q = queue.NewInMemory(64)
	}

	rec := recognizer.New(cfg.FaceServiceURL, cfg.FaceSkip)

	ids := identity.NewService(identity.NewRepository(db), cfg.MatchThreshold, cfg.DuplicateThreshold)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	n, err := ids.Load(startCtx)
	cancelStart()
	if err != nil {
		return err
	}
	log.Printf("loaded %d enrolled people", n)

	led := ledger.NewRepository(db, loc)
	devices := auth.NewDeviceRepo(db)
	coord := attendance.NewCoordinator(rec, ids, led, q)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Ping(c.Request.Context()) == nil
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := devices.Register(c.Request.Context(), req.DeviceID); err != nil {
			writeError(c, err)
			return
		}
		tokens, err := auth.Issue(req.DeviceID, "device", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = devices.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Enrollment. Accepts either a captured photo (the recognizer extracts
	// the template) or a precomputed embedding from an edge device.
	v1.POST("/people", func(c *gin.Context) {
		var req struct {
			DisplayName string    `json:"display_name" binding:"required"`
			Department  string    `json:"department"`
			PhotoURL    string    `json:"photo_url"`
			Image       string    `json:"image"`
			Embedding   []float32 `json:"embedding"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		embedding := req.Embedding
		if len(embedding) == 0 {
			if req.Image == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "image or embedding required"})
				return
			}
			frame, err := base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64"})
				return
			}
			detections, err := rec.DetectAndEmbed(c.Request.Context(), frame)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": "face detection failed"})
				return
			}
			if len(detections) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "enrollment photo must contain exactly one face"})
				return
			}
			embedding = detections[0].Embedding
		}

		person, err := ids.Enroll(c.Request.Context(), req.DisplayName, req.Department, req.PhotoURL, embedding)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, person)
	})

	v1.GET("/people", func(c *gin.Context) {
		people, err := ids.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"people": people})
	})

	v1.GET("/people/:id", func(c *gin.Context) {
		person, err := ids.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, person)
	})

	v1.DELETE("/people/:id", func(c *gin.Context) {
		if err := ids.Unenroll(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// One recognition cycle: frame in, attendance outcome out.
	v1.POST("/recognize", func(c *gin.Context) {
		var req struct {
			Image     string `json:"image" binding:"required"`
			Direction string `json:"direction"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frame, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64"})
			return
		}
		dir := attendance.Direction(req.Direction)
		if dir != "" && dir != attendance.DirectionIn && dir != attendance.DirectionOut {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be in or out"})
			return
		}

		outcome, err := coord.ProcessFrame(c.Request.Context(), frame, dir)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	v1.GET("/attendance", func(c *gin.Context) {
		date := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		report, err := led.Report(c.Request.Context(), date)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": ledger.DateKey(date, loc), "attendance": report})
	})

	v1.GET("/people/:id/history", func(c *gin.Context) {
		history, err := led.History(c.Request.Context(), c.Param("id"), 30)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	})

	v1.GET("/stats", func(c *gin.Context) {
		present, err := led.CountForDate(c.Request.Context(), time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		enrolled, err := ids.Count(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"present_today": present, "enrolled": enrolled})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// writeError maps domain errors to status codes. Storage failures get a 503
// so the capture UI can show a retry message.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
	case errors.Is(err, identity.ErrDuplicateEmbedding):
		c.JSON(http.StatusConflict, gin.H{"error": "face already enrolled"})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, please retry"})
	case errors.Is(err, context.Canceled):
		c.Status(499) // client closed request
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
