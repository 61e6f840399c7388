package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func TestExtractor_QuestionMark(t *testing.T) {
	e := NewExtractor()

	t.Run("主题包含问号", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "Quick question?", IsRead: true}, testNow)
		assert.True(t, f.HasQuestionMark)
	})

	t.Run("正文包含问号", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "Quick question", BodyText: "Can you help me with this?", IsRead: true}, testNow)
		assert.True(t, f.HasQuestionMark)
	})

	t.Run("无问号", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "Weekly Newsletter", BodyText: "Top stories this week...", IsRead: true}, testNow)
		assert.False(t, f.HasQuestionMark)
	})
}

func TestExtractor_ActionKeyword(t *testing.T) {
	e := NewExtractor()

	t.Run("命中deadline与due", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "Project due", BodyText: "Deadline Friday 5pm", IsRead: true}, testNow)
		assert.True(t, f.HasActionKeyword)
	})

	t.Run("大小写不敏感", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "ACTION REQUIRED: renew", IsRead: true}, testNow)
		assert.True(t, f.HasActionKeyword)
	})

	t.Run("关键词在正文中", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "hi", BodyText: "please confirm your attendance", IsRead: true}, testNow)
		assert.True(t, f.HasActionKeyword)
	})

	t.Run("无关键词", func(t *testing.T) {
		f := e.Extract(EmailInput{Subject: "Weekly Newsletter", BodyText: "Top stories this week...", IsRead: true}, testNow)
		assert.False(t, f.HasActionKeyword)
	})
}

func TestExtractor_FrequentCorrespondent(t *testing.T) {
	e := NewExtractor()

	t.Run("回复次数超过阈值", func(t *testing.T) {
		f := e.Extract(EmailInput{ReplyCountToSender: 4, IsRead: true}, testNow)
		assert.True(t, f.IsFrequentCorrespondent)
	})

	t.Run("回复次数等于阈值不触发", func(t *testing.T) {
		f := e.Extract(EmailInput{ReplyCountToSender: 3, IsRead: true}, testNow)
		assert.False(t, f.IsFrequentCorrespondent)
	})

	t.Run("自定义阈值", func(t *testing.T) {
		custom := NewExtractorWithOptions(nil, 1, 0)
		f := custom.Extract(EmailInput{ReplyCountToSender: 2, IsRead: true}, testNow)
		assert.True(t, f.IsFrequentCorrespondent)
	})
}

func TestExtractor_UnreadAgeDays(t *testing.T) {
	e := NewExtractor()

	t.Run("未读五天", func(t *testing.T) {
		f := e.Extract(EmailInput{
			IsRead:     false,
			ReceivedAt: testNow.Add(-5 * 24 * time.Hour),
		}, testNow)
		assert.Equal(t, 5, f.UnreadAgeDays)
	})

	t.Run("已读邮件滞留时长归零", func(t *testing.T) {
		f := e.Extract(EmailInput{
			IsRead:     true,
			ReceivedAt: testNow.Add(-10 * 24 * time.Hour),
		}, testNow)
		assert.Equal(t, 0, f.UnreadAgeDays)
	})

	t.Run("不足一天按零计", func(t *testing.T) {
		f := e.Extract(EmailInput{
			IsRead:     false,
			ReceivedAt: testNow.Add(-23 * time.Hour),
		}, testNow)
		assert.Equal(t, 0, f.UnreadAgeDays)
	})

	t.Run("接收时间为零值不计数", func(t *testing.T) {
		f := e.Extract(EmailInput{IsRead: false}, testNow)
		assert.Equal(t, 0, f.UnreadAgeDays)
	})
}
