package httptransport

import (
	"mailtriage/backend/internal/auth"
	"mailtriage/backend/internal/auth/jwt"
	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 分类输入错误
	domain.ErrEmailIDRequired: "邮件ID不能为空",
	domain.ErrUserIDRequired:  "用户ID不能为空",
	domain.ErrReplyCountNeg:   "历史回复次数不能为负数",
	domain.ErrSnoozeInPast:    "延后时间必须是未来时刻",

	// 存储错误
	storage.ErrDecisionNotFound: "决策记录不存在",
	storage.ErrEmailNotFound:    "邮件不存在",
	storage.ErrUserNotFound:     "用户不存在",
	storage.ErrEmailExists:      "该邮箱已被注册",

	// 认证错误
	domain.ErrInvalidEmail:      "邮箱格式无效",
	domain.ErrPasswordTooShort:  "密码太短，至少8个字符",
	domain.ErrPasswordTooLong:   "密码太长，最多72个字符",
	domain.ErrUsernameTooShort:  "用户名太短，至少3个字符",
	domain.ErrUsernameTooLong:   "用户名太长，最多32个字符",
	domain.ErrInvalidUsername:   "用户名格式无效",
	auth.ErrInvalidCredentials:  "邮箱或密码错误",
	auth.ErrUserInactive:        "账户已被禁用",
	auth.ErrEmailExists:         "该邮箱已被注册",
	jwt.ErrInvalidToken:         "无效的访问令牌",
	jwt.ErrExpiredToken:         "登录已过期，请重新登录",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidSnoozeAt  = "延后时间格式无效，请使用 RFC3339 格式"
	MsgBatchEmpty       = "批量请求不能为空"
	MsgBatchTooLarge    = "批量请求数量超出上限"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "邮箱或密码错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"

	// 决策相关
	MsgClassifyFailed     = "邮件分类失败"
	MsgDecisionNotFound   = "决策记录不存在"
	MsgPendingListFailed  = "获取待办列表失败"
	MsgStatsFailed        = "获取统计数据失败"
	MsgActionFailed       = "更新决策状态失败"

	// 用户相关
	MsgUserNotFound  = "用户不存在"
	MsgUserGetFailed = "获取用户信息失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
