// internal/models/item.go
package models

// Item 任务中的物品
type Item struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	IsKey       bool   `json:"isKey" yaml:"is_key"`
	Effect      string `json:"effect,omitempty" yaml:"effect,omitempty"`
}
