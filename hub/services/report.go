package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"patchhub/hub/auth"
	"patchhub/hub/schema"
	"patchhub/hub/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const noReplyPlaceholder = "无处理留言"

var (
	errReportAlreadyHandled   = errors.New("该举报已被处理")
	errFeedbackAlreadyHandled = errors.New("该反馈已被处理")
)

type ReportService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	notifier Notifier
}

func (s *ReportService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/report", s.FileReport)
		r.Post("/feedback", s.FileFeedback)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly())

		r.Post("/report/{message_id}/handle", s.HandleReport)
		r.Post("/feedback/{message_id}/handle", s.HandleFeedback)
	})

	return r
}

// fanout creates one message per administrator. Every admin gets their
// own copy through the plain (non-dedup) primitive: two users reporting
// the same target must both reach every admin.
func (s *ReportService) fanout(db *gorm.DB, msgType, content, link string, senderId uint) error {
	admins, err := schema.ListAdmins(db)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}

	for _, admin := range admins {
		recipientId := admin.Id
		sender := senderId
		err := s.notifier.CreateMessage(db, MessageSpec{
			Type:        msgType,
			Content:     content,
			SenderId:    &sender,
			RecipientId: &recipientId,
			Link:        link,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Context resolution for report bodies is advisory only: a target or
// author that vanished degrades to empty strings, it never fails the
// report.
func (s *ReportService) commentContext(commentId uint) (author, quoted, link string) {
	var comment schema.Comment
	result := s.db.Preload("User").First(&comment, "id = ?", commentId)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("sql error resolving reported comment", "comment_id", commentId, "error", result.Error)
		}
		return "", "", ""
	}
	if comment.User != nil {
		author = comment.User.Name
	}
	return author, truncateContent(comment.Content), fmt.Sprintf("/topic/%d", comment.TopicId)
}

func (s *ReportService) topicContext(topicId uint) (author, title, link string) {
	var topic schema.Topic
	result := s.db.Preload("User").First(&topic, "id = ?", topicId)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("sql error resolving reported topic", "topic_id", topicId, "error", result.Error)
		}
		return "", "", ""
	}
	if topic.User != nil {
		author = topic.User.Name
	}
	return author, truncateContent(topic.Title), fmt.Sprintf("/topic/%d", topic.Id)
}

func (s *ReportService) patchContext(patchId uint) (name, link string) {
	patch, err := schema.GetPatch(patchId, s.db, false, false, false)
	if err != nil {
		return "", ""
	}
	return patch.Name, patch.Link()
}

type fileReportRequest struct {
	TargetType string `json:"target_type"`
	TargetId   uint   `json:"target_id"`
	Reason     string `json:"reason"`
}

func (s *ReportService) FileReport(w http.ResponseWriter, r *http.Request) {
	var params fileReportRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var content, link string
	switch params.TargetType {
	case "comment":
		author, quoted, targetLink := s.commentContext(params.TargetId)
		content = fmt.Sprintf("%v 举报了 %v 的评论「%v」：%v", user.Name, author, quoted, truncateContent(params.Reason))
		link = targetLink
	case "topic":
		author, title, targetLink := s.topicContext(params.TargetId)
		content = fmt.Sprintf("%v 举报了 %v 的话题「%v」：%v", user.Name, author, title, truncateContent(params.Reason))
		link = targetLink
	case "patch":
		name, targetLink := s.patchContext(params.TargetId)
		content = fmt.Sprintf("%v 举报了游戏「%v」：%v", user.Name, name, truncateContent(params.Reason))
		link = targetLink
	default:
		http.Error(w, fmt.Sprintf("invalid report target type '%v'", params.TargetType), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return s.fanout(txn, schema.MessageReport, content, link, user.Id)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error filing report: %v", err), GetResponseCode(err))
		return
	}

	reportsFiledMetric.Inc()
	utils.WriteSuccess(w)
}

type fileFeedbackRequest struct {
	Content string `json:"content"`
}

func (s *ReportService) FileFeedback(w http.ResponseWriter, r *http.Request) {
	var params fileFeedbackRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if strings.TrimSpace(params.Content) == "" {
		http.Error(w, "feedback content is required", http.StatusUnprocessableEntity)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	content := fmt.Sprintf("%v 提交了反馈：%v", user.Name, truncateContent(params.Content))

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return s.fanout(txn, schema.MessageFeedback, content, "", user.Id)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error filing feedback: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type handleRequest struct {
	Reply string `json:"reply"`
}

func (s *ReportService) HandleReport(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, schema.MessageReport)
}

func (s *ReportService) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, schema.MessageFeedback)
}

// handle resolves a report or feedback message exactly once: the status
// flip to read (the "handled" marker for these types) and the reply
// message back to the original sender commit together or not at all.
func (s *ReportService) handle(w http.ResponseWriter, r *http.Request, msgType string) {
	messageId, err := utils.URLParamUint(r, "message_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params handleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	admin, err := auth.UserFromContext(r)
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

		if message.Type != msgType {
			return CodedError(fmt.Errorf("message %v has type %v, expected %v", messageId, message.Type, msgType), http.StatusUnprocessableEntity)
		}

		if message.Status != schema.MessageUnread {
			if msgType == schema.MessageReport {
				return CodedError(errReportAlreadyHandled, http.StatusConflict)
			}
			return CodedError(errFeedbackAlreadyHandled, http.StatusConflict)
		}

		result := txn.Model(&schema.Message{Id: message.Id}).Update("status", schema.MessageRead)
		if result.Error != nil {
			slog.Error("sql error marking message handled", "message_id", messageId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		reply := strings.TrimSpace(params.Reply)
		if reply == "" {
			reply = noReplyPlaceholder
		}

		label := "举报"
		if msgType == schema.MessageFeedback {
			label = "反馈"
		}

		adminId := admin.Id
		return s.notifier.CreateMessage(txn, MessageSpec{
			Type:        msgType,
			Content:     fmt.Sprintf("你的%v「%v」已被处理：%v", label, truncateContent(message.Content), reply),
			SenderId:    &adminId,
			RecipientId: message.SenderId,
			Link:        message.Link,
		})
	})

	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
