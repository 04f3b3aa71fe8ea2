package document

import "time"

// Record models the persisted content of one file within a session.
// Content is whole-document: an accepted edit replaces it entirely
// (last-writer-wins by server arrival order).
type Record struct {
	SessionID        string    `gorm:"column:session_id;primaryKey;size:64;not null"`
	FileID           string    `gorm:"column:file_id;primaryKey;size:64;not null"`
	FileName         string    `gorm:"column:file_name;size:190;not null;index:idx_documents_session_name,priority:2"`
	Content          string    `gorm:"column:content;type:text;not null"`
	LastWriterUserID string    `gorm:"column:last_writer_user_id;size:64;not null;default:''"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "documents"
}

// FileInfo is the catalog-facing projection of a Record.
type FileInfo struct {
	FileID   string
	FileName string
}
