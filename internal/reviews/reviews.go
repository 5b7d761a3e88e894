// Package reviews validates review input before anything reaches the network.
package reviews

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength applies to every review surface.
const DefaultMaxLength = 2000

const (
	MsgEmpty         = "리뷰 내용을 입력해주세요."
	msgTooLong       = "리뷰는 최대 %d자까지 입력 가능합니다."
	MsgRating        = "별점은 1점부터 5점까지 선택해주세요."
	MsgNotYourDelete = "본인의 리뷰만 삭제할 수 있습니다."
	MsgNotYourEdit   = "본인의 리뷰만 수정할 수 있습니다."
)

// ValidationError carries the message shown next to the form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Input is a review as submitted by a form.
type Input struct {
	Content string
	Rating  int
}

// Length counts characters after NFC normalization so decomposed Hangul
// counts the same as precomposed text.
func Length(content string) int {
	return utf8.RuneCountInString(norm.NFC.String(content))
}

// Validate checks content and rating against limit and returns the trimmed,
// NFC-normalized content. A limit of zero or less uses DefaultMaxLength.
func Validate(in Input, limit int) (Input, error) {
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	content := norm.NFC.String(strings.TrimSpace(in.Content))
	if content == "" {
		return in, &ValidationError{Field: "content", Message: MsgEmpty}
	}
	if utf8.RuneCountInString(content) > limit {
		return in, &ValidationError{Field: "content", Message: fmt.Sprintf(msgTooLong, limit)}
	}
	if in.Rating < 1 || in.Rating > 5 {
		return in, &ValidationError{Field: "rating", Message: MsgRating}
	}
	return Input{Content: content, Rating: in.Rating}, nil
}

// ValidateEdit is Validate for edits, where the rating may be left unchanged (0).
func ValidateEdit(in Input, limit int) (Input, error) {
	if in.Rating == 0 {
		out, err := Validate(Input{Content: in.Content, Rating: 1}, limit)
		out.Rating = 0
		if err != nil {
			return in, err
		}
		return out, nil
	}
	return Validate(in, limit)
}
