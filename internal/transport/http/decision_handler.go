package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/service"
	"mailtriage/backend/internal/storage"
)

// MaxBatchSize 单次批量分类请求的邮件数上限
const MaxBatchSize = 50

// DecisionHandler 处理决策分类与生命周期相关的 HTTP 请求。
//
// 分类前先通过通信历史服务拿到 replyCountToSender，
// 分类核心只消费这个数字，不自己查询历史。
type DecisionHandler struct {
	decisions *service.DecisionService
	history   *service.HistoryService
	emails    storage.EmailRepository
	log       *zap.Logger
}

// NewDecisionHandler 创建决策处理器
func NewDecisionHandler(decisions *service.DecisionService, history *service.HistoryService, emails storage.EmailRepository, log *zap.Logger) *DecisionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DecisionHandler{
		decisions: decisions,
		history:   history,
		emails:    emails,
		log:       log,
	}
}

type classifyRequest struct {
	EmailID string `json:"emailId" binding:"required"`
}

type classifyBatchRequest struct {
	Items []classifyRequest `json:"items" binding:"required"`
}

type batchItemResponse struct {
	EmailID  string           `json:"emailId"`
	Decision *domain.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type classifyBatchResponse struct {
	Items     []batchItemResponse `json:"items"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

type snoozeRequest struct {
	// RFC3339 格式；为空时使用服务端默认推迟时长
	SnoozeUntil string `json:"snoozeUntil"`
}

// Classify 对单封邮件执行决策分类
// @Summary 分类单封邮件
// @Description 对指定邮件执行两段式决策分类，返回持久化后的决策记录
// @Tags 决策
// @Accept json
// @Produce json
// @Param request body classifyRequest true "分类请求"
// @Success 200 {object} domain.Decision
// @Failure 400 {object} Response "请求参数错误"
// @Failure 404 {object} Response "邮件不存在"
// @Failure 500 {object} Response "服务器内部错误"
// @Router /api/decisions/classify [post]
func (h *DecisionHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	userID := c.GetString("userID")
	input, err := h.buildInput(c, req.EmailID, userID)
	if err != nil {
		h.respondClassifyError(c, err)
		return
	}

	decision, err := h.decisions.Classify(c.Request.Context(), input)
	if err != nil {
		h.respondClassifyError(c, err)
		return
	}

	Success(c, decision)
}

// ClassifyBatch 批量分类
// @Summary 批量分类邮件
// @Description 并发分类一批邮件，单封失败不影响其余邮件
// @Tags 决策
// @Accept json
// @Produce json
// @Param request body classifyBatchRequest true "批量分类请求"
// @Success 200 {object} classifyBatchResponse
// @Failure 400 {object} Response "请求参数错误"
// @Router /api/decisions/classify/batch [post]
func (h *DecisionHandler) ClassifyBatch(c *gin.Context) {
	var req classifyBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if len(req.Items) == 0 {
		BadRequest(c, MsgBatchEmpty)
		return
	}
	if len(req.Items) > MaxBatchSize {
		BadRequest(c, MsgBatchTooLarge)
		return
	}

	userID := c.GetString("userID")
	ctx := c.Request.Context()

	inputs := make([]service.ClassifyInput, 0, len(req.Items))
	for _, item := range req.Items {
		input, err := h.buildInput(c, item.EmailID, userID)
		if err != nil {
			// 历史查询失败只影响这一封的回复次数上下文
			h.log.Warn("failed to build classify input",
				zap.String("email_id", item.EmailID),
				zap.Error(err),
			)
			input = service.ClassifyInput{EmailID: item.EmailID, UserID: userID}
		}
		inputs = append(inputs, input)
	}

	results := h.decisions.ClassifyBatch(ctx, inputs)

	resp := classifyBatchResponse{Items: make([]batchItemResponse, 0, len(results))}
	for _, r := range results {
		item := batchItemResponse{EmailID: r.EmailID, Decision: r.Decision}
		if r.Err != nil {
			item.Error = GetErrorMessage(r.Err)
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Items = append(resp.Items, item)
	}

	Success(c, resp)
}

// buildInput 组装分类输入：先查邮件拿到发件人，再查历史回复次数。
func (h *DecisionHandler) buildInput(c *gin.Context, emailID, userID string) (service.ClassifyInput, error) {
	input := service.ClassifyInput{EmailID: emailID, UserID: userID}

	email, err := h.emails.GetEmail(c.Request.Context(), emailID, userID)
	if err != nil {
		return input, err
	}

	count, err := h.history.ReplyCount(c.Request.Context(), userID, email.FromAddress)
	if err != nil {
		// 历史不可用时按零回复处理，分类仍然继续
		h.log.Warn("reply count lookup failed, defaulting to zero",
			zap.String("user_id", userID),
			zap.String("sender", email.FromAddress),
			zap.Error(err),
		)
		return input, nil
	}

	input.ReplyCountToSender = count
	return input, nil
}

// respondClassifyError 将分类错误映射为 HTTP 响应
func (h *DecisionHandler) respondClassifyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrEmailIDRequired), errors.Is(err, domain.ErrUserIDRequired):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, storage.ErrEmailNotFound):
		NotFound(c, GetErrorMessage(err))
	default:
		h.log.Error("classification failed", zap.Error(err))
		InternalError(c, MsgClassifyFailed)
	}
}

// ListPending 获取待办决策列表
// @Summary 待办决策列表
// @Description 返回当前用户的待处理决策，包含延后已到期的记录，附带邮件元数据
// @Tags 决策
// @Produce json
// @Success 200 {object} object{items=[]domain.PendingDecision,count=int}
// @Failure 500 {object} Response "服务器内部错误"
// @Router /api/decisions/pending [get]
func (h *DecisionHandler) ListPending(c *gin.Context) {
	userID := c.GetString("userID")

	items, err := h.decisions.ListPending(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("failed to list pending decisions", zap.Error(err))
		InternalError(c, MsgPendingListFailed)
		return
	}

	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}

// Stats 获取决策统计
// @Summary 决策统计
// @Description 按状态与类型聚合的决策统计
// @Tags 决策
// @Produce json
// @Success 200 {object} domain.DecisionStats
// @Failure 500 {object} Response "服务器内部错误"
// @Router /api/decisions/stats [get]
func (h *DecisionHandler) Stats(c *gin.Context) {
	userID := c.GetString("userID")

	stats, err := h.decisions.Stats(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("failed to get decision stats", zap.Error(err))
		InternalError(c, MsgStatsFailed)
		return
	}

	Success(c, stats)
}

// Complete 将决策标记为已完成
// @Summary 完成决策
// @Tags 决策
// @Param emailId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response "决策记录不存在"
// @Router /api/decisions/{emailId}/complete [post]
func (h *DecisionHandler) Complete(c *gin.Context) {
	h.runAction(c, func(emailID, userID string) error {
		return h.decisions.Complete(c.Request.Context(), emailID, userID)
	})
}

// Dismiss 将决策标记为已忽略
// @Summary 忽略决策
// @Tags 决策
// @Param emailId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response "决策记录不存在"
// @Router /api/decisions/{emailId}/dismiss [post]
func (h *DecisionHandler) Dismiss(c *gin.Context) {
	h.runAction(c, func(emailID, userID string) error {
		return h.decisions.Dismiss(c.Request.Context(), emailID, userID)
	})
}

// MarkNotDecision 将记录标记为非决策项
// @Summary 标记为非决策
// @Tags 决策
// @Param emailId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response "决策记录不存在"
// @Router /api/decisions/{emailId}/not-decision [post]
func (h *DecisionHandler) MarkNotDecision(c *gin.Context) {
	h.runAction(c, func(emailID, userID string) error {
		return h.decisions.MarkNotDecision(c.Request.Context(), emailID, userID)
	})
}

// Snooze 将决策推迟到指定时间
// @Summary 延后决策
// @Description 将决策推迟到 snoozeUntil；为空则使用默认推迟时长
// @Tags 决策
// @Accept json
// @Param emailId path string true "邮件ID"
// @Param request body snoozeRequest false "延后时间"
// @Success 204
// @Failure 400 {object} Response "延后时间无效"
// @Failure 404 {object} Response "决策记录不存在"
// @Router /api/decisions/{emailId}/snooze [post]
func (h *DecisionHandler) Snooze(c *gin.Context) {
	var req snoozeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	var until *time.Time
	if req.SnoozeUntil != "" {
		t, err := time.Parse(time.RFC3339, req.SnoozeUntil)
		if err != nil {
			BadRequest(c, MsgInvalidSnoozeAt)
			return
		}
		until = &t
	}

	h.runAction(c, func(emailID, userID string) error {
		return h.decisions.Snooze(c.Request.Context(), emailID, userID, until)
	})
}

// runAction 执行一次生命周期操作并统一处理错误映射
func (h *DecisionHandler) runAction(c *gin.Context, action func(emailID, userID string) error) {
	emailID := c.Param("emailId")
	userID := c.GetString("userID")

	if err := action(emailID, userID); err != nil {
		switch {
		case errors.Is(err, storage.ErrDecisionNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, domain.ErrSnoozeInPast),
			errors.Is(err, domain.ErrEmailIDRequired),
			errors.Is(err, domain.ErrUserIDRequired):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("decision action failed",
				zap.String("email_id", emailID),
				zap.Error(err),
			)
			InternalError(c, MsgActionFailed)
		}
		return
	}

	NoContent(c)
}
