package classify

import (
	"strings"
	"time"
)

// 预检阈值，可通过配置覆盖（见 config.TriageConfig）
const (
	// DefaultFrequentReplyThreshold 高频联系人阈值：历史回复次数超过该值视为高频
	DefaultFrequentReplyThreshold = 3
	// DefaultStaleUnreadDays 未读滞留阈值：未读超过该天数视为积压信号
	DefaultStaleUnreadDays = 3
)

// defaultActionKeywords 行动关键词集合，命中任意一个即触发 AI 分类。
// 大小写不敏感的子串匹配，作用于主题或正文。
var defaultActionKeywords = []string{
	"please confirm",
	"let me know",
	"deadline",
	"due",
	"submit",
	"reply",
	"respond",
	"urgent",
	"asap",
	"action required",
	"your response",
	"waiting for",
	"need your",
}

// Features 从单封邮件提取出的廉价信号
type Features struct {
	HasQuestionMark         bool `json:"hasQuestionMark"`
	HasActionKeyword        bool `json:"hasActionKeyword"`
	IsFrequentCorrespondent bool `json:"isFrequentCorrespondent"`
	UnreadAgeDays           int  `json:"unreadAgeDays"`
}

// EmailInput 特征提取的输入。
//
// ReplyCountToSender 由调用方从通信历史服务取得后传入，
// 提取器本身不访问任何存储，保证确定性的单元测试。
type EmailInput struct {
	Subject            string
	BodyText           string
	FromAddress        string
	IsRead             bool
	ReceivedAt         time.Time
	ReplyCountToSender int
}

// Extractor 特征提取器，阈值与关键词集合在构造时固定。
type Extractor struct {
	keywords       []string
	replyThreshold int
	staleDays      int
}

// NewExtractor 使用默认阈值与关键词集合创建提取器
func NewExtractor() *Extractor {
	return &Extractor{
		keywords:       defaultActionKeywords,
		replyThreshold: DefaultFrequentReplyThreshold,
		staleDays:      DefaultStaleUnreadDays,
	}
}

// NewExtractorWithOptions 创建自定义阈值的提取器。
// keywords 为空时使用默认关键词集合；非正的阈值回落到默认值。
func NewExtractorWithOptions(keywords []string, replyThreshold, staleDays int) *Extractor {
	e := NewExtractor()
	if len(keywords) > 0 {
		lowered := make([]string, len(keywords))
		for i, kw := range keywords {
			lowered[i] = strings.ToLower(kw)
		}
		e.keywords = lowered
	}
	if replyThreshold > 0 {
		e.replyThreshold = replyThreshold
	}
	if staleDays > 0 {
		e.staleDays = staleDays
	}
	return e
}

// StaleDays 返回未读滞留阈值，预检门共用同一配置
func (e *Extractor) StaleDays() int {
	return e.staleDays
}

// Extract 从邮件提取特征。纯函数，无副作用。
//
// unreadAgeDays 只在未读时计数：已读邮件的滞留时长不再是信号。
func (e *Extractor) Extract(in EmailInput, now time.Time) Features {
	subject := strings.ToLower(in.Subject)
	body := strings.ToLower(in.BodyText)

	f := Features{
		HasQuestionMark:         strings.Contains(in.Subject, "?") || strings.Contains(in.BodyText, "?"),
		IsFrequentCorrespondent: in.ReplyCountToSender > e.replyThreshold,
	}

	for _, kw := range e.keywords {
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			f.HasActionKeyword = true
			break
		}
	}

	if !in.IsRead && !in.ReceivedAt.IsZero() {
		age := now.Sub(in.ReceivedAt)
		if age > 0 {
			f.UnreadAgeDays = int(age.Hours() / 24)
		}
	}

	return f
}
