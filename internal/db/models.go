package db

import (
	"time"
)

// TranslationMemoryEntry maps modtrans.translation_memory.
type TranslationMemoryEntry struct {
	EntryID        int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	EntryUUID      string    `gorm:"column:entry_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ContentHash    []byte    `gorm:"column:content_hash;type:bytea;not null"`
	SourceLang     string    `gorm:"column:source_lang;type:text;not null"`
	TargetLang     string    `gorm:"column:target_lang;type:text;not null"`
	OriginalText   string    `gorm:"column:original_text;type:text;not null"`
	TranslatedText string    `gorm:"column:translated_text;type:text;not null"`
	ProviderName   string    `gorm:"column:provider_name;type:text;not null;default:''"`
	ModelName      *string   `gorm:"column:model_name;type:text"`
	Reviewed       bool      `gorm:"column:reviewed;type:boolean;not null;default:false"`
	HitCount       int       `gorm:"column:hit_count;type:integer;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TranslationMemoryEntry) TableName() string { return "modtrans.translation_memory" }

// TranslationRun maps modtrans.translation_runs.
type TranslationRun struct {
	RunRowID     int64      `gorm:"column:run_row_id;primaryKey;autoIncrement"`
	RunID        string     `gorm:"column:run_id;type:text;not null;unique"`
	Status       string     `gorm:"column:status;type:text;not null"`
	ProviderName string     `gorm:"column:provider_name;type:text;not null;default:''"`
	SourceLang   string     `gorm:"column:source_lang;type:text;not null"`
	TargetLang   string     `gorm:"column:target_lang;type:text;not null"`
	Total        int        `gorm:"column:total;type:integer;not null;default:0"`
	Succeeded    int        `gorm:"column:succeeded;type:integer;not null;default:0"`
	Failed       int        `gorm:"column:failed;type:integer;not null;default:0"`
	NeedsReview  int        `gorm:"column:needs_review;type:integer;not null;default:0"`
	Pending      int        `gorm:"column:pending;type:integer;not null;default:0"`
	MemoryHits   int        `gorm:"column:memory_hits;type:integer;not null;default:0"`
	Stalls       int        `gorm:"column:stalls;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt   *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

func (TranslationRun) TableName() string { return "modtrans.translation_runs" }

func autoMigrateModels() []any {
	return []any{
		&TranslationMemoryEntry{},
		&TranslationRun{},
	}
}
