package domain

import "time"

// Email 表示从 Gmail 同步到本地的一封邮件。
//
// 邮件记录由外部同步进程写入，对决策核心是只读的：
// 本服务只读取元数据与正文用于特征提取，绝不修改邮件本身。
type Email struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(128)"` // Gmail 消息 ID，稳定不变
	UserID      string    `json:"userId" gorm:"primaryKey;type:varchar(36);not null"`
	Subject     string    `json:"subject" gorm:"type:varchar(500)"`
	BodyText    string    `json:"bodyText,omitempty" gorm:"type:text"` // 纯文本正文，用于关键词/问号检测
	Snippet     string    `json:"snippet" gorm:"type:varchar(300)"`    // 列表展示用摘要
	FromAddress string    `json:"fromAddress" gorm:"type:varchar(255);index"`
	IsRead      bool      `json:"isRead" gorm:"default:false"`
	ReceivedAt  time.Time `json:"receivedAt" gorm:"index"`
	SyncedAt    time.Time `json:"syncedAt"`
}
