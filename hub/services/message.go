package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"patchhub/hub/auth"
	"patchhub/hub/schema"
	"patchhub/hub/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// MessageSpec is the input to the notification primitives. SenderId and
// RecipientId are weak references; nil means the message has no sender
// (system origin) or no single recipient.
type MessageSpec struct {
	Type        string
	Content     string
	SenderId    *uint
	RecipientId *uint
	Link        string
}

// Notifier owns creation of notification messages. It carries no state of
// its own: every method takes the db handle (or transaction) it should
// write through, so callers can compose notifications into their own
// transactions.
type Notifier struct{}

// CreateMessage unconditionally inserts one message row with status
// unread.
func (Notifier) CreateMessage(db *gorm.DB, spec MessageSpec) error {
	if err := schema.CheckValidMessageType(spec.Type); err != nil {
		return CodedError(err, http.StatusUnprocessableEntity)
	}

	message := schema.Message{
		Type:        spec.Type,
		Content:     spec.Content,
		SenderId:    spec.SenderId,
		RecipientId: spec.RecipientId,
		Status:      schema.MessageUnread,
		Link:        spec.Link,
	}

	result := db.Create(&message)
	if result.Error != nil {
		slog.Error("sql error creating message", "type", spec.Type, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	messagesCreatedMetric.WithLabelValues(spec.Type).Inc()
	return nil
}

// CreateDedupMessage inserts a message unless one with identical
// {type, content, sender, recipient} already exists, in which case it is a
// no-op. Content is matched exactly and the timestamp is ignored, so a
// rapidly re-toggled action produces at most one notification.
func (n Notifier) CreateDedupMessage(db *gorm.DB, spec MessageSpec) error {
	query := db.Where("type = ? AND content = ?", spec.Type, spec.Content)
	if spec.SenderId != nil {
		query = query.Where("sender_id = ?", *spec.SenderId)
	} else {
		query = query.Where("sender_id IS NULL")
	}
	if spec.RecipientId != nil {
		query = query.Where("recipient_id = ?", *spec.RecipientId)
	} else {
		query = query.Where("recipient_id IS NULL")
	}

	var existing schema.Message
	result := query.Limit(1).Find(&existing)
	if result.Error != nil {
		slog.Error("sql error checking for duplicate message", "type", spec.Type, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected != 0 {
		return nil
	}

	return n.CreateMessage(db, spec)
}

type MessageService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	notifier Notifier
}

func (s *MessageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/list", s.List)
		r.Put("/{message_id}/read", s.MarkRead)
		r.Post("/favorite", s.Favorite)
	})

	return r
}

type MessageInfo struct {
	Id         uint      `json:"id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Status     int       `json:"status"`
	Link       string    `json:"link"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *MessageService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	query := s.db.Preload("Sender").Where("recipient_id = ?", user.Id)
	if msgType := r.URL.Query().Get("type"); msgType != "" {
		if err := schema.CheckValidMessageType(msgType); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("type = ?", msgType)
	}
	if r.URL.Query().Get("unread") == "true" {
		query = query.Where("status = ?", schema.MessageUnread)
	}

	var messages []schema.Message
	result := query.Order("created_at desc").Find(&messages)
	if result.Error != nil {
		slog.Error("sql error listing messages", "user_id", user.Id, "error", result.Error)
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}

	infos := make([]MessageInfo, 0, len(messages))
	for _, message := range messages {
		info := MessageInfo{
			Id:        message.Id,
			Type:      message.Type,
			Content:   message.Content,
			Status:    message.Status,
			Link:      message.Link,
			CreatedAt: message.CreatedAt,
		}
		if message.Sender != nil {
			info.SenderName = message.Sender.Name
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *MessageService) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageId, err := utils.URLParamUint(r, "message_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		message, err := schema.GetMessage(messageId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMessageNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if message.RecipientId == nil || *message.RecipientId != user.Id {
			return CodedError(errors.New("message does not belong to user"), http.StatusForbidden)
		}

		if message.Status != schema.MessageUnread {
			return nil
		}

		result := txn.Model(&schema.Message{Id: message.Id}).Update("status", schema.MessageRead)
		if result.Error != nil {
			slog.Error("sql error marking message read", "message_id", messageId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type favoriteRequest struct {
	PatchId uint `json:"patch_id"`
}

// Favorite notifies a patch owner that someone favorited their patch.
// Favoriting is reversible and frequently re-toggled, so this goes
// through the dedup primitive to keep toggle spam out of the owner's
// inbox.
func (s *MessageService) Favorite(w http.ResponseWriter, r *http.Request) {
	var params favoriteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		patch, err := schema.GetPatch(params.PatchId, txn, false, false, false)
		if err != nil {
			if errors.Is(err, schema.ErrPatchNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if patch.UserId == user.Id {
			return nil
		}

		senderId := user.Id
		recipientId := patch.UserId
		return s.notifier.CreateDedupMessage(txn, MessageSpec{
			Type:        schema.MessageFavorite,
			Content:     fmt.Sprintf("%v 收藏了你的游戏 %v", user.Name, patch.Name),
			SenderId:    &senderId,
			RecipientId: &recipientId,
			Link:        patch.Link(),
		})
	})

	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
