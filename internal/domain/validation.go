package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// 验证相关的错误定义
var (
	ErrEmailIDRequired  = errors.New("email id is required")
	ErrUserIDRequired   = errors.New("user id is required")
	ErrReplyCountNeg    = errors.New("reply count must not be negative")
	ErrSnoozeInPast     = errors.New("snooze time must be in the future")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 72 chars)")
	ErrUsernameTooShort = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong  = errors.New("username too long (max 32 chars)")
	ErrInvalidUsername  = errors.New("invalid username format")
)

// 验证常量
const (
	MinPasswordLength = 8
	// bcrypt 只处理前 72 字节
	MaxPasswordLength = 72
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// 用户名必须以字母开头
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z]$`)

// ValidateClassifyKey 校验分类请求的 (emailID, userID) 键。
//
// 缺失的键属于编程错误输入，直接快速失败，不进入分类管线。
func ValidateClassifyKey(emailID, userID string) error {
	if strings.TrimSpace(emailID) == "" {
		return ErrEmailIDRequired
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	return nil
}

// ValidateSnoozeUntil 校验延后时间必须晚于当前时刻
func ValidateSnoozeUntil(until, now time.Time) error {
	if !until.After(now) {
		return ErrSnoozeInPast
	}
	return nil
}

// ValidateLoginEmail 校验登录邮箱格式
func ValidateLoginEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword 校验密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateUsername 校验用户名格式
func ValidateUsername(username string) error {
	if username == "" {
		return nil // 用户名可选
	}
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}
