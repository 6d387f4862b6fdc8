package llm

import (
	"fmt"

	xerrors "duotronics/internal/errors"
)

// Validate 检查对话是否可以提交给厂商。
func Validate(conversation []Message) error {
	if len(conversation) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "messages must not be empty")
	}
	for idx, msg := range conversation {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("message %d has unknown role %q", idx, msg.Role))
		}
	}
	return nil
}

// WithoutSystem 过滤 system 消息，系统提示词通过厂商的专用字段传递。
func WithoutSystem(conversation []Message) []Message {
	filtered := make([]Message, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Role == RoleSystem {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered
}

// LastUserUtterance 返回最近一条用户消息；没有用户消息时退回最后一条消息。
func LastUserUtterance(conversation []Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == RoleUser {
			return conversation[i].Content
		}
	}
	if len(conversation) == 0 {
		return ""
	}
	return conversation[len(conversation)-1].Content
}
