package schema

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrPatchNotFound   = errors.New("未找到该游戏")
	ErrTagNotFound     = errors.New("tag not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrDbAccessFailed  = errors.New("db access failed")
)

func GetUser(userId uint, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetPatch(patchId uint, db *gorm.DB, loadTags, loadCompanies, loadResources bool) (Patch, error) {
	var patch Patch

	var result *gorm.DB = db
	if loadTags {
		result = result.Preload("Tags").Preload("Tags.Tag")
	}
	if loadCompanies {
		result = result.Preload("Companies").Preload("Companies.Company")
	}
	if loadResources {
		result = result.Preload("Resources")
	}
	result = result.First(&patch, "id = ?", patchId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return patch, ErrPatchNotFound
		}
		slog.Error("sql error in get patch", "patch_id", patchId, "error", result.Error)
		return patch, ErrDbAccessFailed
	}

	return patch, nil
}

func GetMessage(messageId uint, db *gorm.DB) (Message, error) {
	var message Message

	result := db.First(&message, "id = ?", messageId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return message, ErrMessageNotFound
		}
		slog.Error("sql error in get message", "message_id", messageId, "error", result.Error)
		return message, ErrDbAccessFailed
	}

	return message, nil
}

// ListAdmins returns every user at or above the admin role threshold, the
// recipient set for moderation fan-out.
func ListAdmins(db *gorm.DB) ([]User, error) {
	var admins []User
	result := db.Find(&admins, "role >= ?", RoleAdmin)
	if result.Error != nil {
		slog.Error("sql error listing admins", "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	return admins, nil
}
