package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"patchhub/hub/schema"

	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkUserExists(txn *gorm.DB, userId uint) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

const maxQuoteRunes = 200

// Delimiters recognized as natural truncation boundaries, checked against
// the capped prefix from the end. Covers both CJK and ASCII punctuation.
var truncationDelims = []string{"\n", "。", "！", "？", "，", ".", "!", "?", ",", " "}

// truncateContent trims quoted message content at the last natural
// boundary within the first 200 runes, falling back to a hard cut when no
// delimiter is present. Rune-based so CJK text is never split
// mid-character.
func truncateContent(s string) string {
	runes := []rune(s)
	if len(runes) <= maxQuoteRunes {
		return s
	}

	capped := string(runes[:maxQuoteRunes])
	best := -1
	for _, delim := range truncationDelims {
		if idx := strings.LastIndex(capped, delim); idx >= 0 && idx+len(delim) > best {
			best = idx + len(delim)
		}
	}
	if best > 0 {
		return capped[:best]
	}
	return capped
}
