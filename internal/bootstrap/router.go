package bootstrap

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/craftfast/sandbox-backend/internal/api/http"
	"github.com/craftfast/sandbox-backend/internal/api/http/middleware"
	sandboxhttp "github.com/craftfast/sandbox-backend/internal/sandbox/http"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Manager     sandboxhttp.SandboxManager
	Health      sandboxhttp.HealthChecker
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Default())

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Redis)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware())

	handler := sandboxhttp.NewHandler(dep.Manager, dep.Health)
	sandboxhttp.Register(api, handler)

	return r
}
