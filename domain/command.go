package domain

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SendMessageCommand carries a message submission from the caller.
type SendMessageCommand struct {
	ChatID  string      `validate:"required"`
	Content string      `validate:"required,max=4096"`
	Type    MessageType `validate:"required,oneof=text image file eventUpdate system"`
}

// CreateGroupCommand creates a named group chat with an initial member set.
type CreateGroupCommand struct {
	Name      string   `validate:"required,min=1,max=128"`
	MemberIDs []string `validate:"required,min=1,unique,dive,required"`
}

// RenameGroupCommand renames an existing group chat.
type RenameGroupCommand struct {
	ChatID string `validate:"required"`
	Name   string `validate:"required,min=1,max=128"`
}

// MembershipCommand adds or removes a single member of a group chat.
type MembershipCommand struct {
	ChatID string `validate:"required"`
	UserID string `validate:"required"`
}

// ValidateCommand checks a command's structural constraints.
// The returned error is the raw validator error; callers map it to the
// ValidationError kind before surfacing.
func ValidateCommand(cmd any) error {
	return validate.Struct(cmd)
}
