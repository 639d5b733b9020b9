package main

import (
	"log"
	"os"

	"quizforge-backend/conn"
	"quizforge-backend/documents"
	"quizforge-backend/generation"
	"quizforge-backend/login"
	"quizforge-backend/migrations"
	aiclient "quizforge-backend/openai"
	"quizforge-backend/profile"
	"quizforge-backend/quizzes"
	"quizforge-backend/quota"
	"quizforge-backend/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[main] mysql connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[main] migrations failed: %v", err)
	}

	rdb, err := conn.NewRedis()
	if err != nil {
		log.Fatalf("[main] redis connection failed: %v", err)
	}
	login.Init(rdb)
	ledger := quota.NewLedger(rdb)

	cli := aiclient.NewClient()
	var backends []generation.Backend
	if cli.Available() {
		backends = append(backends, generation.NewOpenAIBackend(cli))
	} else {
		log.Printf("[main] OPENAI_API_KEY not set; falling back to local question generation")
	}
	backends = append(backends, generation.NewHeuristicBackend())
	orchestrator := generation.NewOrchestrator(backends...)

	docRepo := documents.NewRepository(db)
	quizRepo := quizzes.NewRepository(db)
	billing := subscriptions.NewService(subscriptions.NewRepository(db))

	r := gin.Default()

	r.POST("/api/auth/register", login.RegisterHandler)
	r.POST("/api/auth/login", login.Handler)
	r.POST("/api/auth/refresh", login.RefreshHandler)
	r.POST("/api/auth/logout", login.LogoutHandler)
	auth := r.Group("/api/auth", login.AuthRequired())
	auth.GET("/me", login.MeHandler)
	auth.POST("/change-password", login.ChangePasswordHandler)

	documents.NewHandler(docRepo).RegisterRoutes(r)
	quizzes.NewHandler(quizRepo, docRepo, ledger, orchestrator).RegisterRoutes(r)
	subscriptions.NewHandler(billing, ledger).RegisterRoutes(r)
	profile.RegisterRoutes(r)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	log.Printf("[main] listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("[main] server stopped: %v", err)
	}
}
