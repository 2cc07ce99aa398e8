// internal/models/character.go
package models

// Character 任务中的角色
type Character struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
	Description string `json:"description" yaml:"description"`
	Motivation  string `json:"motivation,omitempty" yaml:"motivation,omitempty"`
	IsAlly      bool   `json:"isAlly" yaml:"is_ally"`
	IsEnemy     bool   `json:"isEnemy" yaml:"is_enemy"`
}

// Location 任务中的地点
type Location struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Characters  []string `json:"characters,omitempty" yaml:"characters,omitempty"` // 成员反向引用
	Items       []string `json:"items,omitempty" yaml:"items,omitempty"`
}

// Clone 深拷贝地点
func (l Location) Clone() Location {
	c := l
	c.Characters = cloneStrings(l.Characters)
	c.Items = cloneStrings(l.Items)
	return c
}
