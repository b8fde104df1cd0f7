package handlers

import (
	"callguard/internal/domain/services"
	"callguard/internal/infrastructure/cache"
	"callguard/internal/infrastructure/database"
	"callguard/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Sessions  *SessionsHandler
	Telephony *TelephonyHandler
	Stats     *StatsHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Pipeline *services.Pipeline
	Store    *services.SessionStore
	Corpus   *services.Corpus
	Cache    *cache.RedisCache
	DB       *database.PostgresDB
	Logger   *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Cache, deps.DB, deps.Logger),
		Sessions:  NewSessionsHandler(deps.Store, deps.Logger),
		Telephony: NewTelephonyHandler(deps.Pipeline, deps.Logger),
		Stats:     NewStatsHandler(deps.Store, deps.Corpus, deps.Logger),
	}
}
