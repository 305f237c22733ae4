package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound 分诊事件不存在
	ErrNotFound = errors.New("intake event not found")
	// ErrStoreUnavailable 事件存储不可用（可重试）
	ErrStoreUnavailable = errors.New("event store unavailable")
)

// FieldError 字段级校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors 校验失败列表（一次返回全部错误）
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StateTransitionError 非法状态迁移
type StateTransitionError struct {
	EventID string
	From    Status
	Action  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s intake event %s in status %s", e.Action, e.EventID, e.From)
}

// ClassificationError 分类器产生了非法结果（编程错误）
type ClassificationError struct {
	Reason string
}

func (e *ClassificationError) Error() string {
	return "classification failed: " + e.Reason
}

// StoreError 把底层驱动错误包装为 ErrStoreUnavailable
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
