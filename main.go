package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"onboard-api/config"
	"onboard-api/handlers"
	"onboard-api/middleware"
	"onboard-api/models"
	"onboard-api/routes"
	"onboard-api/store"
	"onboard-api/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var st store.Store
	if os.Getenv("DB_DRIVER") == "memory" {
		log.Println("⚠️ Using in-memory store (DB_DRIVER=memory): data is lost on restart")
		st = store.NewMemory()
	} else {
		db, err := config.InitDB()
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer db.Close()

		log.Println("✅ Database connected successfully")

		if err := config.RunMigrations(db); err != nil {
			log.Fatal("Failed to run migrations:", err)
		}
		st = store.NewPostgres(db)
	}

	if err := ensureAdmin(st); err != nil {
		log.Fatal("Failed to bootstrap admin account:", err)
	}

	go scheduleSessionCleanup(st)

	wsHandler := handlers.NewWSHandler()

	router := gin.Default()

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}

	corsConfig := cors.Config{
		AllowOrigins:     []string{frontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
	router.Use(cors.New(corsConfig))

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("📨 %s %s - %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	})

	router.Use(middleware.RateLimiter())

	v1 := router.Group("/api/v1")
	routes.Setup(v1, st, wsHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🚀 Server starting on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// ensureAdmin seeds the first admin account from the environment so a fresh
// deployment has someone able to issue invitations.
func ensureAdmin(st store.Store) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := st.UserByEmail(ctx, email); err == nil {
		return nil
	} else if err != store.ErrNotFound {
		return err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	err = st.CreateUser(ctx, &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         "Administrator",
		Role:         models.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return err
	}
	log.Printf("✅ Admin account created for %s", email)
	return nil
}

func scheduleSessionCleanup(st store.Store) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	cleanExpiredSessions(st)
	for range ticker.C {
		cleanExpiredSessions(st)
	}
}

func cleanExpiredSessions(st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := st.DeleteExpiredSessions(ctx)
	if err != nil {
		log.Printf("❌ Session cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("🧹 Cleaned %d expired sessions", n)
	}
}
