package model

import (
	"time"

	"gorm.io/gorm"
)

// LectureMaterial is the persisted identity row of one uploaded file.
type LectureMaterial struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FileName   string    `gorm:"size:255;not null" json:"file_name"`
	FileType   string    `gorm:"size:255" json:"file_type"`
	UploadedAt time.Time `gorm:"not null;autoCreateTime:false" json:"uploaded_at"`
}

func (LectureMaterial) TableName() string {
	return "lecture_materials"
}

// BeforeCreate stamps UploadedAt once; updates never touch the column.
func (m *LectureMaterial) BeforeCreate(_ *gorm.DB) error {
	if m.UploadedAt.IsZero() {
		m.UploadedAt = time.Now().UTC()
	}
	return nil
}
