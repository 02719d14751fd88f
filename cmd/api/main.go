package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/archive"
	"checkin/internal/auth"
	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/geo"
	"checkin/internal/httpmiddleware"
	"checkin/internal/ledger"
	"checkin/internal/queue"
	"checkin/internal/ranking"
	"checkin/internal/roster"
	"checkin/internal/session"
	"checkin/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:records")
	}

	var archiveRepo *archive.Repository
	if db != nil && db.Client != nil {
		archiveRepo = archive.NewRepository(db.Client)
	}

	sessions := session.NewStore()
	led := ledger.NewMemory()
	students := roster.New()
	engine := checkin.NewEngine(sessions, led)
	ranker := ranking.NewEngine(led)
	ctx := context.Background()

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy && cfg.QueueBackend != "memory" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": archiveRepo != nil, "queue": cfg.QueueBackend})
	})

	r.POST("/v1/students/register", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Name      string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		student := students.Upsert(req.StudentID, req.Name)

		tokens, err := auth.Issue(student.ID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"student":       student,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/admin/token", func(c *gin.Context) {
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Key != cfg.AdminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		tokens, err := auth.Issue("admin", auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": tokens.AccessToken,
			"expires_at":   tokens.AccessExp.Unix(),
		})
	})

	// Session issuing surface. The session token in the response is what the
	// admin UI renders as a scannable code.
	adminGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleAdmin))

	adminGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Lat          *float64 `json:"lat" binding:"required"`
			Lng          *float64 `json:"lng" binding:"required"`
			RadiusMeters float64  `json:"radius_meters" binding:"required"`
			OpensAt      int64    `json:"opens_at" binding:"required"`
			ClosesAt     int64    `json:"closes_at" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		center := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		if !center.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate out of bounds"})
			return
		}

		s, err := sessions.Create(center, req.RadiusMeters, time.Unix(req.OpensAt, 0), time.Unix(req.ClosesAt, 0))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sessionJSON(s, time.Now()))
	})

	adminGroup.POST("/sessions/:id/close", func(c *gin.Context) {
		now := time.Now()
		if err := sessions.Close(c.Param("id"), now); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s, err := sessions.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sessionJSON(s, now))
	})

	adminGroup.GET("/sessions", func(c *gin.Context) {
		now := time.Now()
		list := sessions.List()
		out := make([]gin.H, 0, len(list))
		for _, s := range list {
			out = append(out, sessionJSON(s, now))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	adminGroup.GET("/sessions/:id", func(c *gin.Context) {
		s, err := sessions.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sessionJSON(s, time.Now()))
	})

	adminGroup.GET("/sessions/:id/records", func(c *gin.Context) {
		if _, err := sessions.Get(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		recs, err := led.RecordsForSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recordsJSON(recs)})
	})

	// Durable export over the worker-maintained Postgres archive. The live
	// in-memory ledger answers the other reporting endpoints; this one serves
	// the export UIs after a restart.
	adminGroup.GET("/records/export", func(c *gin.Context) {
		if archiveRepo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive not configured"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		recs, err := archiveRepo.ListRecords(c.Request.Context(), c.Query("session_id"), c.Query("student_id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"records": recordsJSON(recs)}
		if sessionID := c.Query("session_id"); sessionID != "" {
			if n, err := archiveRepo.CountPresent(c.Request.Context(), sessionID); err == nil {
				resp["present_count"] = n
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	// Check-in surface. The session ID arrives as the opaque token decoded
	// from the scanned code; the coordinate comes from the device's location
	// provider. The student identity is the token subject, never the body.
	studentGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	studentGroup.POST("/checkins", func(c *gin.Context) {
		var req struct {
			SessionID string   `json:"session_id" binding:"required"`
			Lat       *float64 `json:"lat" binding:"required"`
			Lng       *float64 `json:"lng" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		at := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		if !at.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate out of bounds"})
			return
		}

		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)

		rec, err := engine.Attempt(c.Request.Context(), req.SessionID, claims.Subject, at, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if body, merr := json.Marshal(rec); merr == nil {
			if perr := q.Publish(ctx, queue.Message{Type: "record", Body: body}); perr != nil {
				log.Printf("queue publish failed: %v", perr)
			}
		}

		c.JSON(http.StatusOK, recordJSON(rec))
	})

	// Reporting surfaces: history, leaderboard, certificate.
	reportGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))

	reportGroup.GET("/students/:id/history", func(c *gin.Context) {
		recs, err := led.RecordsForStudent(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recordsJSON(recs)})
	})

	reportGroup.GET("/leaderboard", func(c *gin.Context) {
		rows, err := ranker.Leaderboard(c.Request.Context(), sessions.List(), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(rows))
		for _, row := range rows {
			name := ""
			if student, err := students.Get(row.StudentID); err == nil {
				name = student.Name
			}
			out = append(out, gin.H{
				"rank":             row.Rank,
				"student_id":       row.StudentID,
				"name":             name,
				"sessions_present": row.SessionsPresent,
				"sessions_total":   row.SessionsTotal,
				"percentage":       row.Percentage,
			})
		}
		c.JSON(http.StatusOK, gin.H{"leaderboard": out})
	})

	reportGroup.GET("/students/:id/certificate", func(c *gin.Context) {
		threshold := cfg.CertThresholdPct
		if v := c.Query("threshold"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed < 0 || parsed > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
				return
			}
			threshold = parsed
		}
		eligible, pct, err := ranker.CertificateEligibility(c.Request.Context(), c.Param("id"), sessions.List(), threshold, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"student_id": c.Param("id"),
			"eligible":   eligible,
			"percentage": pct,
			"threshold":  threshold,
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// sessionJSON renders a session with epoch timestamps and its derived state.
func sessionJSON(s session.Session, now time.Time) gin.H {
	return gin.H{
		"id":            s.ID,
		"lat":           s.Center.Lat,
		"lng":           s.Center.Lng,
		"radius_meters": s.RadiusMeters,
		"opens_at":      s.OpensAt.Unix(),
		"closes_at":     s.ClosesAt.Unix(),
		"state":         session.CurrentState(s, now),
	}
}

func recordJSON(rec ledger.Record) gin.H {
	return gin.H{
		"id":              rec.ID,
		"session_id":      rec.SessionID,
		"student_id":      rec.StudentID,
		"timestamp":       rec.Timestamp.Unix(),
		"outcome":         rec.Outcome,
		"reason":          rec.Reason,
		"distance_meters": rec.DistanceMeters,
	}
}

func recordsJSON(recs []ledger.Record) []gin.H {
	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordJSON(rec))
	}
	return out
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
