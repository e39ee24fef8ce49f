package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/streamtip/backend/internal/models"
)

// BattleService tracks per-room gift contests. State is ephemeral and lives
// only in memory; a battle expires lazily when a read or a contribution finds
// its window elapsed, nothing sweeps it in the background.
type BattleService struct {
	mu        sync.RWMutex
	battles   map[string]*models.Battle
	validator *ValidationHelper
	now       func() time.Time
}

func NewBattleService() *BattleService {
	return &BattleService{
		battles:   make(map[string]*models.Battle),
		validator: NewValidationHelper(),
		now:       time.Now,
	}
}

// Start registers a battle for the room. A prior battle for the same room is
// overwritten unconditionally, finished or not; see DESIGN.md.
func (s *BattleService) Start(roomName, challenger, opponent string, durationSeconds int) *models.Battle {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle := &models.Battle{
		RoomName:   roomName,
		Challenger: challenger,
		Opponent:   opponent,
		StartedAt:  s.now(),
		Duration:   durationSeconds,
		Status:     models.BattleActive,
	}
	s.battles[roomName] = battle
	log.Printf("[BATTLE] Started in room %s: %s vs %s (%ds)", roomName, challenger, opponent, durationSeconds)
	return s.snapshot(battle)
}

// RecordContribution adds gift value to the participant matching identity.
// No battle, a finished battle or an unmatched identity all drop the
// contribution silently; identity matching is exact and case-sensitive.
func (s *BattleService) RecordContribution(roomName, identity string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, ok := s.battles[roomName]
	if !ok || s.expired(battle) {
		return
	}

	switch identity {
	case battle.Challenger:
		battle.ScoreA += amount
	case battle.Opponent:
		battle.ScoreB += amount
	}
}

// Status returns a point-in-time copy of the room's battle with its finished
// state computed from elapsed time.
func (s *BattleService) Status(roomName string) (*models.Battle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	battle, ok := s.battles[roomName]
	if !ok {
		return nil, false
	}
	return s.snapshot(battle), true
}

// Clear removes the room's battle if present.
func (s *BattleService) Clear(roomName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.battles, roomName)
}

func (s *BattleService) expired(battle *models.Battle) bool {
	return s.now().Sub(battle.StartedAt) >= time.Duration(battle.Duration)*time.Second
}

func (s *BattleService) snapshot(battle *models.Battle) *models.Battle {
	copied := *battle
	if s.expired(battle) {
		copied.Status = models.BattleFinished
	}
	return &copied
}

// StartBattle handles the battle challenge request
// @Summary Start a battle
// @Description Start a timed two-party gift contest for a room
// @Tags battles
// @Accept json
// @Produce json
// @Param battle body object{roomName=string,challenger=string,opponent=string,durationSeconds=int} true "Battle request"
// @Success 201 {object} models.Battle
// @Failure 400 {object} ErrorResponse
// @Router /battles/start [post]
func (s *BattleService) StartBattle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName   string `json:"roomName" validate:"required"`
		Challenger string `json:"challenger" validate:"required"`
		Opponent   string `json:"opponent" validate:"required,nefield=Challenger"`
		Duration   int    `json:"durationSeconds" validate:"required,gt=0,max=3600"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	battle := s.Start(req.RoomName, req.Challenger, req.Opponent, req.Duration)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(battle)
}

// GetBattle handles the battle status poll
// @Summary Get battle status
// @Description Current scores and finished state for a room's battle
// @Tags battles
// @Produce json
// @Param roomName path string true "Room name"
// @Success 200 {object} models.Battle
// @Failure 404 {object} ErrorResponse
// @Router /battles/{roomName} [get]
func (s *BattleService) GetBattle(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")

	battle, ok := s.Status(roomName)
	if !ok {
		SendErrorResponse(w, "No battle for room", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(battle)
}

// StopBattle handles explicit battle teardown
// @Summary Stop a battle
// @Description Clear the room's battle whether or not it finished
// @Tags battles
// @Produce json
// @Param roomName path string true "Room name"
// @Success 200 {object} map[string]bool
// @Router /battles/{roomName} [delete]
func (s *BattleService) StopBattle(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")
	s.Clear(roomName)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
