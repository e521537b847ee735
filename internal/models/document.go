package models

import "time"

// Document is one persisted JSON document in the SQL store.
type Document struct {
	Name      string `gorm:"primaryKey;size:64"`
	Body      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (Document) TableName() string {
	return "documents"
}
