package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/streamtip/backend/internal/models"
)

// SessionLedger is the slice of the ledger the billing engine depends on.
type SessionLedger interface {
	SplitTransfer(payerID, broadcasterID, txID string, amount int64, share float64) (int64, error)
}

// PrivateShowService owns the per-room session registry and bills every
// active session once per billing window. Charges run through the ledger's
// compound primitive; a session whose payer cannot cover the next charge is
// terminated on the spot with no partial charge.
type PrivateShowService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    SessionLedger
	validator *ValidationHelper
	rate      int64
	share     float64
	window    time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*models.PrivateSession
	starting map[string]struct{}
}

func NewPrivateShowService(db *sql.DB, redisClient *redis.Client, ledger SessionLedger) *PrivateShowService {
	rate := int64(50)
	share := 0.8
	if envRate := os.Getenv("PRIVATE_SHOW_RATE"); envRate != "" {
		if val, err := strconv.ParseInt(envRate, 10, 64); err == nil {
			rate = val
		}
	}
	if envShare := os.Getenv("BROADCASTER_SHARE"); envShare != "" {
		if val, err := strconv.ParseFloat(envShare, 64); err == nil {
			share = val
		}
	}
	return &PrivateShowService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
		rate:      rate,
		share:     share,
		window:    time.Minute,
		now:       time.Now,
		sessions:  make(map[string]*models.PrivateSession),
		starting:  make(map[string]struct{}),
	}
}

// Start opens a private session for the room after charging the payer the
// first minute upfront. The room is reserved while the charge runs, so
// concurrent starts lose immediately and status polls never wait on the
// store. No session is created when the charge fails.
func (s *PrivateShowService) Start(roomName, payerID string) (*models.SessionStatus, error) {
	s.mu.Lock()
	if _, ok := s.sessions[roomName]; ok {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	if _, ok := s.starting[roomName]; ok {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	s.starting[roomName] = struct{}{}
	s.mu.Unlock()

	broadcasterID, err := s.broadcasterForRoom(roomName)
	if err == nil {
		_, err = s.ledger.SplitTransfer(payerID, broadcasterID, uuid.NewString(), s.rate, s.share)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.starting, roomName)

	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.PrivateSession{
		RoomName:      roomName,
		PayerID:       payerID,
		BroadcasterID: broadcasterID,
		RatePerMinute: s.rate,
		StartedAt:     now,
		LastBilledAt:  now,
	}
	s.sessions[roomName] = session

	log.Printf("[BILLING] Session started in room %s, payer %s, rate %d", roomName, payerID, s.rate)
	return &models.SessionStatus{
		RoomName:  roomName,
		Active:    true,
		PayerID:   payerID,
		StartedAt: now,
	}, nil
}

// Stop removes the room's session. Only the payer or the broadcaster may
// stop it; stopping an absent session is a no-op.
func (s *PrivateShowService) Stop(roomName, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[roomName]
	if !ok {
		return nil
	}
	if callerID != session.PayerID && callerID != session.BroadcasterID {
		return ErrNotAuthorized
	}

	delete(s.sessions, roomName)
	log.Printf("[BILLING] Session stopped in room %s by %s", roomName, callerID)
	return nil
}

// Status is the poller-facing read path. It takes only a read lock and never
// contends with the charge path, which runs outside the registry lock.
func (s *PrivateShowService) Status(roomName string) models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[roomName]
	if !ok {
		return models.SessionStatus{RoomName: roomName, Active: false}
	}
	return models.SessionStatus{
		RoomName:  roomName,
		Active:    true,
		PayerID:   session.PayerID,
		StartedAt: session.StartedAt,
	}
}

// Tick charges every session whose billing window has elapsed. Sessions are
// snapshotted first so charges never hold the registry lock; before
// committing a result the session's registration is re-checked, so a Stop
// that raced the charge wins and the entry stays gone.
func (s *PrivateShowService) Tick() {
	now := s.now()

	s.mu.RLock()
	due := make([]*models.PrivateSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if now.Sub(session.LastBilledAt) >= s.window {
			due = append(due, session)
		}
	}
	s.mu.RUnlock()

	for _, session := range due {
		_, err := s.ledger.SplitTransfer(session.PayerID, session.BroadcasterID, uuid.NewString(), s.rate, s.share)

		s.mu.Lock()
		current, ok := s.sessions[session.RoomName]
		if !ok || current != session {
			s.mu.Unlock()
			continue
		}
		switch {
		case err == nil:
			// Reset to now rather than advancing by the window: a stalled
			// scheduler bills once for the whole gap, never per missed window.
			current.LastBilledAt = now
			s.mu.Unlock()
		case errors.Is(err, ErrInsufficientFunds):
			delete(s.sessions, session.RoomName)
			s.mu.Unlock()
			log.Printf("[BILLING] Session in room %s terminated: payer %s out of funds", session.RoomName, session.PayerID)
			s.publishExpiry(session)
		default:
			s.mu.Unlock()
			log.Printf("[BILLING] Charge failed in room %s, will retry next sweep: %v", session.RoomName, err)
		}
	}
}

// RunScheduler drives Tick on a fixed cadence until ctx is cancelled. Exactly
// one scheduler runs per process.
func (s *PrivateShowService) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[BILLING] Scheduler running, sweep interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[BILLING] Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *PrivateShowService) broadcasterForRoom(roomName string) (string, error) {
	var broadcasterID string
	err := s.db.QueryRow(`
		SELECT r.broadcaster_id
		FROM rooms r
		JOIN accounts a ON a.id = r.broadcaster_id
		WHERE r.room_name = $1 AND a.role = $2 AND a.status = $3`,
		roomName, models.RoleBroadcaster, models.AccountActive).Scan(&broadcasterID)

	if err == sql.ErrNoRows {
		return "", ErrBroadcasterNotFound
	}
	if err != nil {
		return "", err
	}
	return broadcasterID, nil
}

func (s *PrivateShowService) publishExpiry(session *models.PrivateSession) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"roomName": session.RoomName,
		"payerId":  session.PayerID,
		"reason":   "insufficient_funds",
		"at":       s.now(),
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(context.Background(), "session_events", data).Err(); err != nil {
		log.Printf("[BILLING] Failed to queue expiry event for room %s: %v", session.RoomName, err)
	}
}

// StartShow handles private session start requests
// @Summary Start a private show
// @Description Open a metered private session, charging the first minute upfront
// @Tags private-shows
// @Accept json
// @Produce json
// @Param session body object{roomName=string,payerId=string} true "Start request"
// @Success 201 {object} models.SessionStatus
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /private-shows/start [post]
func (s *PrivateShowService) StartShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string `json:"roomName" validate:"required"`
		PayerID  string `json:"payerId" validate:"required"`
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

	status, err := s.Start(req.RoomName, req.PayerID)
	if err != nil {
		log.Printf("[BILLING] Start failed for room %s, payer %s: %v", req.RoomName, req.PayerID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(status)
}

// StopShow handles private session stop requests
// @Summary Stop a private show
// @Description Close the room's session; payer and broadcaster only
// @Tags private-shows
// @Accept json
// @Produce json
// @Param session body object{roomName=string,callerId=string} true "Stop request"
// @Success 200 {object} map[string]bool
// @Failure 403 {object} ErrorResponse
// @Router /private-shows/stop [post]
func (s *PrivateShowService) StopShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string `json:"roomName" validate:"required"`
		CallerID string `json:"callerId" validate:"required"`
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

	if err := s.Stop(req.RoomName, req.CallerID); err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// ShowStatus handles high-frequency status polling
// @Summary Get private show status
// @Description Whether a session is active for the room and, if so, who pays
// @Tags private-shows
// @Produce json
// @Param roomName path string true "Room name"
// @Success 200 {object} models.SessionStatus
// @Router /private-shows/{roomName} [get]
func (s *PrivateShowService) ShowStatus(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status(roomName))
}
