package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fragment-arena/internal/db"
	"fragment-arena/internal/middleware"
	"fragment-arena/internal/models"
	"fragment-arena/internal/tournament"
	"fragment-arena/internal/validation"
)

// maxCodeBlobSize bounds a submitted strategy directive.
const maxCodeBlobSize = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type TournamentHandler struct {
	controller *tournament.Controller
}

// GetStatus reports per-bracket tournament progress.
// GET /api/tournament/status
func (h *TournamentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, err := h.controller.Status(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tournament status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type ExhibitionHandler struct {
	db *db.MongoDB
}

type createExhibitionRequest struct {
	WhiteAgentID string `json:"whiteAgentId"`
	BlackAgentID string `json:"blackAgentId"`
}

// CreateExhibition creates a pending exhibition match; the scheduler's
// exhibition dispatcher queues it on its next tick.
// POST /api/exhibitions
func (h *ExhibitionHandler) CreateExhibition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req createExhibitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WhiteAgentID == "" || req.BlackAgentID == "" {
		writeError(w, http.StatusBadRequest, "whiteAgentId and blackAgentId are required")
		return
	}
	if req.WhiteAgentID == req.BlackAgentID {
		writeError(w, http.StatusBadRequest, "an agent cannot play itself")
		return
	}

	for _, agentID := range []string{req.WhiteAgentID, req.BlackAgentID} {
		var agent models.Agent
		err := h.db.Agents().FindOne(ctx, bson.M{"_id": agentID, "active": true}).Decode(&agent)
		if err == mongo.ErrNoDocuments {
			writeError(w, http.StatusNotFound, "agent "+agentID+" not found or inactive")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to look up agent")
			return
		}
	}

	match := models.Match{
		ID:           uuid.NewString(),
		WhiteAgentID: req.WhiteAgentID,
		BlackAgentID: req.BlackAgentID,
		MatchType:    models.TypeExhibition,
		Status:       models.MatchPending,
		CreatedAt:    time.Now(),
	}
	if _, err := h.db.Matches().InsertOne(ctx, match); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create match")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": match.ID, "status": match.Status})
}

type AgentHandler struct {
	db *db.MongoDB
}

type validateAgentRequest struct {
	Name          string `json:"name"`
	Version       int    `json:"version"`
	CodeBlob      string `json:"codeBlob"`
	ExecutionMode string `json:"executionMode"`
}

func (req *validateAgentRequest) problem() string {
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if len(req.CodeBlob) > maxCodeBlobSize {
		return "codeBlob exceeds the size limit"
	}
	switch req.ExecutionMode {
	case models.ExecutionModeServer:
		if strings.TrimSpace(req.CodeBlob) == "" {
			return "codeBlob is required for server agents"
		}
	case models.ExecutionModeLocal:
	case "":
		return "executionMode is required"
	default:
		return "executionMode must be server or local"
	}
	return ""
}

// SubmitForValidation enqueues an agent submission. The validation processor
// picks it up on its next poll; passing creates the Agent row.
// POST /api/agents/validate
func (h *AgentHandler) SubmitForValidation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req validateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.problem(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Version <= 0 {
		req.Version = 1
	}

	now := time.Now()
	entry := models.ValidationQueueEntry{
		ID:            uuid.NewString(),
		OwnerID:       claims.OwnerID,
		Name:          strings.TrimSpace(req.Name),
		Version:       req.Version,
		CodeBlob:      req.CodeBlob,
		CodeHash:      validation.CodeHash(req.CodeBlob),
		ExecutionMode: req.ExecutionMode,
		Status:        models.ValidationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := h.db.ValidationQueue().InsertOne(ctx, entry); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue submission")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": entry.ID, "status": entry.Status})
}

type LeaderboardHandler struct {
	db *db.MongoDB
}

type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	AgentID     string `json:"agentId"`
	Name        string `json:"name"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
}

// GetLeaderboard returns the top agents by rating.
// GET /api/leaderboard
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "rating", Value: -1}}).SetLimit(50)
	cursor, err := h.db.Rankings().Find(ctx, bson.M{"gamesPlayed": bson.M{"$gt": 0}}, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rankings")
		return
	}
	var rankings []models.Ranking
	if err := cursor.All(ctx, &rankings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rankings")
		return
	}

	ids := make([]string, len(rankings))
	for i, rk := range rankings {
		ids[i] = rk.AgentID
	}
	names := make(map[string]string, len(ids))
	agentCursor, err := h.db.Agents().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err == nil {
		var agents []models.Agent
		if err := agentCursor.All(ctx, &agents); err == nil {
			for _, a := range agents {
				names[a.ID] = a.Name
			}
		}
	}

	entries := make([]LeaderboardEntry, 0, len(rankings))
	for i, rk := range rankings {
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			AgentID:     rk.AgentID,
			Name:        names[rk.AgentID],
			Rating:      rk.Rating,
			GamesPlayed: rk.GamesPlayed,
			Wins:        rk.Wins,
			Losses:      rk.Losses,
			Draws:       rk.Draws,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}
