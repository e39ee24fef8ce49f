package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/streamtip/backend/internal/models"
)

// GiftService validates and executes sender-to-recipient gift transfers. The
// price lookup, balance movement, lifetime-tips increment and transaction
// record all commit in one database transaction; battle scoring and event
// publication happen only after the commit.
type GiftService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *TokenLedgerService
	battles   *BattleService
	validator *ValidationHelper
}

func NewGiftService(db *sql.DB, redisClient *redis.Client, ledger *TokenLedgerService, battles *BattleService) *GiftService {
	return &GiftService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		battles:   battles,
		validator: NewValidationHelper(),
	}
}

// GiftReceipt is returned to the caller so the UI can echo the new balance.
type GiftReceipt struct {
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	GiftID        string `json:"giftId"`
	Price         int64  `json:"price"`
	SenderBalance int64  `json:"senderBalance"`
	RoomName      string `json:"roomName,omitempty"`
}

// SendGift executes a gift transfer. The transfer is final once the database
// transaction commits; a crash afterwards can lose the battle score update
// but never the balance movement.
func (s *GiftService) SendGift(senderID, recipientID, giftID, roomName string) (*GiftReceipt, error) {
	if senderID == recipientID {
		return nil, ErrSelfGift
	}

	txID := uuid.NewString()
	var price, senderBalance int64

	err := s.ledger.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		err = tx.QueryRow(`SELECT price FROM gifts WHERE id = $1`, giftID).Scan(&price)
		if err == sql.ErrNoRows {
			return ErrGiftNotFound
		}
		if err != nil {
			return err
		}

		senderBalance, err = s.ledger.TransferTx(tx, senderID, recipientID, txID, price)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
			UPDATE accounts
			SET lifetime_tips = lifetime_tips + $1
			WHERE id = $2`, price, recipientID); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO transactions
			(transaction_id, from_account_id, to_account_id, amount, type, gift_id, room_name, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			txID, senderID, recipientID, price, models.TxGift, giftID, roomName, "COMPLETED", time.Now()); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	if roomName != "" {
		s.battles.RecordContribution(roomName, recipientID, price)
	}

	s.queueGiftEvent(txID, senderID, recipientID, giftID, roomName, price)

	return &GiftReceipt{
		TransactionID: txID,
		SenderID:      senderID,
		RecipientID:   recipientID,
		GiftID:        giftID,
		Price:         price,
		SenderBalance: senderBalance,
		RoomName:      roomName,
	}, nil
}

func (s *GiftService) queueGiftEvent(txID, senderID, recipientID, giftID, roomName string, price int64) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"transactionId": txID,
		"senderId":      senderID,
		"recipientId":   recipientID,
		"giftId":        giftID,
		"roomName":      roomName,
		"price":         price,
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(context.Background(), "gift_events", data).Err(); err != nil {
		log.Printf("[GIFT] Failed to queue gift event %s: %v", txID, err)
	}
}

// SendGiftHandler handles gift transfer requests
// @Summary Send a gift
// @Description Transfer a gift's token price from sender to recipient
// @Tags gifts
// @Accept json
// @Produce json
// @Param gift body object{senderId=string,recipientId=string,giftId=string,roomName=string} true "Gift request"
// @Success 200 {object} GiftReceipt
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /gifts/send [post]
func (s *GiftService) SendGiftHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID    string `json:"senderId" validate:"required"`
		RecipientID string `json:"recipientId" validate:"required"`
		GiftID      string `json:"giftId" validate:"required"`
		RoomName    string `json:"roomName,omitempty"`
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

	receipt, err := s.SendGift(req.SenderID, req.RecipientID, req.GiftID, req.RoomName)
	if err != nil {
		log.Printf("[GIFT] Transfer failed %s -> %s (gift %s): %v", req.SenderID, req.RecipientID, req.GiftID, err)
		SendServiceError(w, err)
		return
	}

	log.Printf("[GIFT] %s sent gift %s to %s for %d tokens", receipt.SenderID, receipt.GiftID, receipt.RecipientID, receipt.Price)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"receipt": receipt,
	})
}

// ListGifts handles catalog reads
// @Summary List the gift catalog
// @Description Read-only gift catalog with prices and tiers
// @Tags gifts
// @Produce json
// @Success 200 {object} object{gifts=[]models.Gift,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /gifts [get]
func (s *GiftService) ListGifts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT id, name, price, tier, icon_path FROM gifts ORDER BY price`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch gifts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	gifts := []models.Gift{}
	for rows.Next() {
		var g models.Gift
		if err := rows.Scan(&g.ID, &g.Name, &g.Price, &g.Tier, &g.IconPath); err != nil {
			SendErrorResponse(w, "Failed to fetch gifts", http.StatusInternalServerError, nil)
			return
		}
		gifts = append(gifts, g)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"gifts": gifts,
		"count": len(gifts),
	})
}
