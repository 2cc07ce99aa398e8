// internal/models/snapshot.go
package models

import "time"

// Phase 会话状态
type Phase string

const (
	PhaseNoQuest    Phase = "no_quest"
	PhaseGenerating Phase = "generating"
	PhasePartial    Phase = "partial" // 生成中，已收到至少一个事件
	PhasePlaying    Phase = "playing"
	PhaseEnded      Phase = "ended"
	PhaseFailed     Phase = "failed"
)

// SessionSnapshot 会话的不可变快照，推送给观察者
type SessionSnapshot struct {
	SessionID      string             `json:"sessionId"`
	Version        uint64             `json:"version"`
	Phase          Phase              `json:"phase"`
	Quest          *Quest             `json:"quest,omitempty"`
	Progress       GenerationProgress `json:"progress"`
	CurrentSceneID string             `json:"currentSceneId,omitempty"`
	LastError      string             `json:"lastError,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// IsTerminal 生成已经结束（完成或失败）
func (s SessionSnapshot) IsTerminal() bool {
	return !s.Progress.IsGenerating && s.Phase != PhaseNoQuest
}

// SessionInfo 会话列表条目
type SessionInfo struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
