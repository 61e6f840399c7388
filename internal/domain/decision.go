package domain

import "time"

// DecisionType 决策类型
type DecisionType string

const (
	DecisionReplyRequired DecisionType = "reply_required"     // 需要回复
	DecisionDeadline      DecisionType = "deadline"           // 包含截止时间
	DecisionFollowUp      DecisionType = "follow_up"          // 需要跟进
	DecisionInformational DecisionType = "informational_only" // 仅供参考，无需行动
)

// DecisionStatus 决策生命周期状态
type DecisionStatus string

const (
	StatusPending     DecisionStatus = "pending"      // 待处理
	StatusDone        DecisionStatus = "done"         // 已完成
	StatusDismissed   DecisionStatus = "dismissed"    // 已忽略
	StatusSnoozed     DecisionStatus = "snoozed"      // 已延后
	StatusNotDecision DecisionStatus = "not_decision" // 用户标记为非决策项
)

// Decision 表示对一封邮件是否需要人工决策的判定记录。
//
// 每个 (EmailID, UserID) 至多一条记录，由分类管线通过原子 upsert 写入。
// 不变量：
//   - DecisionRequired == false 时 Type 必为 informational_only
//   - Status == snoozed 时 SnoozedUntil 非空且设置时刻在未来
//   - SkippedAI == true 表示预检门直接短路，未调用 AI 分类器
type Decision struct {
	ID               string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EmailID          string         `json:"emailId" gorm:"type:varchar(128);not null;uniqueIndex:idx_decision_email_user"`
	UserID           string         `json:"userId" gorm:"type:varchar(36);not null;uniqueIndex:idx_decision_email_user"`
	DecisionRequired bool           `json:"decisionRequired"`
	Type             DecisionType   `json:"decisionType" gorm:"type:varchar(32);not null;index"`
	Reason           string         `json:"reason" gorm:"type:varchar(255)"`
	SkippedAI        bool           `json:"skippedAi" gorm:"column:skipped_ai;default:false"`
	Status           DecisionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	SnoozedUntil     *time.Time     `json:"snoozedUntil,omitempty"`
	DetectedAt       time.Time      `json:"detectedAt"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// ValidType 判断决策类型是否合法
func ValidType(t DecisionType) bool {
	switch t {
	case DecisionReplyRequired, DecisionDeadline, DecisionFollowUp, DecisionInformational:
		return true
	}
	return false
}

// Actionable 判断记录在 now 时刻是否应出现在待处理列表中。
//
// 延后的记录状态保持 snoozed，到期与否在读取时计算
// （见 listPending 的查询条件，与 stats 的统计口径保持一致）。
func (d *Decision) Actionable(now time.Time) bool {
	switch d.Status {
	case StatusPending:
		return true
	case StatusSnoozed:
		return d.SnoozedUntil != nil && !d.SnoozedUntil.After(now)
	}
	return false
}

// PendingDecision 待处理决策与邮件元数据的组合，用于列表展示。
type PendingDecision struct {
	Decision
	Subject     string `json:"subject"`
	FromAddress string `json:"fromAddress"`
	Snippet     string `json:"snippet"`
}

// DecisionStats 按状态与类型聚合的决策统计。
type DecisionStats struct {
	Total      int                    `json:"total"`
	Actionable int                    `json:"actionable"` // pending + 已到期的 snoozed
	ByStatus   map[DecisionStatus]int `json:"byStatus"`
	ByType     map[DecisionType]int   `json:"byType"`
}

// NewDecisionStats 创建空的统计结构
func NewDecisionStats() *DecisionStats {
	return &DecisionStats{
		ByStatus: make(map[DecisionStatus]int),
		ByType:   make(map[DecisionType]int),
	}
}

// Add 将一条决策计入统计
func (s *DecisionStats) Add(d *Decision, now time.Time) {
	s.Total++
	s.ByStatus[d.Status]++
	s.ByType[d.Type]++
	if d.Actionable(now) {
		s.Actionable++
	}
}
