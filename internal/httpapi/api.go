// Package httpapi is the operator-facing HTTP surface: health, tournament
// progress, exhibition requests, and agent submissions. Game traffic never
// flows through here; agents talk to the gateway, runners talk to the bus.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"fragment-arena/internal/db"
	"fragment-arena/internal/middleware"
	"fragment-arena/internal/tournament"
)

type API struct {
	tournamentHandler *TournamentHandler
	exhibitionHandler *ExhibitionHandler
	agentHandler      *AgentHandler
	leaderboard       *LeaderboardHandler

	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

func New(database *db.MongoDB, controller *tournament.Controller, authMW *middleware.AuthMiddleware) *API {
	return &API{
		tournamentHandler: &TournamentHandler{controller: controller},
		exhibitionHandler: &ExhibitionHandler{db: database},
		agentHandler:      &AgentHandler{db: database},
		leaderboard:       &LeaderboardHandler{db: database},
		authMiddleware:    authMW,
		rateLimiter:       middleware.NewRateLimiter(),
	}
}

// Router builds the operator API routes. Reads are public; anything that
// creates work requires a bearer token and is rate limited per IP.
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.SecurityHeaders)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tournament/status", a.tournamentHandler.GetStatus).Methods("GET")
	api.HandleFunc("/leaderboard", a.leaderboard.GetLeaderboard).Methods("GET")

	exhibitions := api.PathPrefix("/exhibitions").Subrouter()
	exhibitions.Use(a.authMiddleware.RequireAuth)
	exhibitions.Use(a.rateLimiter.IPRateLimitMiddleware(middleware.ExhibitionCreateLimit))
	exhibitions.HandleFunc("", a.exhibitionHandler.CreateExhibition).Methods("POST")

	agents := api.PathPrefix("/agents").Subrouter()
	agents.Use(a.authMiddleware.RequireAuth)
	agents.Use(a.rateLimiter.IPRateLimitMiddleware(middleware.ValidationSubmitLimit))
	agents.HandleFunc("/validate", a.agentHandler.SubmitForValidation).Methods("POST")

	return router
}

func (a *API) Close() {
	a.rateLimiter.Stop()
}
