package classify

// ReasonNoActionIndicators 快速路径的判定理由，与 AI 降级理由必须可区分
const ReasonNoActionIndicators = "No action indicators found"

// Gate 预检门：决定一封邮件是否值得调用昂贵的 AI 分类器。
//
// 召回优先：允许把部分无需行动的邮件误放给 AI（假阳性），
// 但四个廉价信号中任意一个命中的邮件绝不能被过滤掉。
// 新增触发条件必须保持这一不对称性。
type Gate struct {
	staleDays int
}

// NewGate 创建预检门，staleDays 与特征提取器共用同一阈值
func NewGate(staleDays int) *Gate {
	if staleDays <= 0 {
		staleDays = DefaultStaleUnreadDays
	}
	return &Gate{staleDays: staleDays}
}

// ShouldClassify 返回 true 表示调用 AI 分类器，false 表示走快速路径。
//
// 四个触发条件取或：问号、行动关键词、高频联系人、未读滞留超阈值。
func (g *Gate) ShouldClassify(f Features) bool {
	return f.HasQuestionMark ||
		f.HasActionKeyword ||
		f.IsFrequentCorrespondent ||
		f.UnreadAgeDays > g.staleDays
}
