package model

import (
	"time"

	"gorm.io/datatypes"
)

// IndexTask is one entry of the pending-operation log kept for vector index
// calls that must eventually succeed after the relational change committed.
type IndexTask struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Operation  string         `gorm:"size:16;not null;index" json:"operation"`
	MaterialID uint           `gorm:"not null;index" json:"material_id"`
	Status     string         `gorm:"size:16;not null;index;default:'pending'" json:"status"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	Filter     datatypes.JSON `gorm:"type:json" json:"filter"`
	LastError  string         `gorm:"type:text" json:"last_error"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (IndexTask) TableName() string {
	return "index_tasks"
}

const (
	IndexOperationDelete = "delete"
)

const (
	IndexTaskPending   = "pending"
	IndexTaskCompleted = "completed"
	IndexTaskFailed    = "failed"
)

// IndexTaskMessage is the retry queue payload.
type IndexTaskMessage struct {
	TaskID uint `json:"task_id"`
}
