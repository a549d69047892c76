package db

import (
	"encoding/json"
	"time"
)

// Insurer maps insurewatch.insurers, the persistent entity store.
type Insurer struct {
	InsurerID   int64     `gorm:"column:insurer_id;primaryKey;autoIncrement:false"`
	Name        string    `gorm:"column:name;type:text;not null"`
	SearchTerms string    `gorm:"column:search_terms;type:text;not null;default:''"`
	Category    string    `gorm:"column:category;type:text;not null"`
	Enabled     bool      `gorm:"column:enabled;type:boolean;not null;default:true"`
	Sentinel    bool      `gorm:"column:sentinel;type:boolean;not null;default:false"`
	Ticker      *string   `gorm:"column:ticker;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Insurer) TableName() string { return "insurewatch.insurers" }

// APIEvent maps insurewatch.api_events, one row per external AI call.
type APIEvent struct {
	APIEventID int64     `gorm:"column:api_event_id;primaryKey;autoIncrement"`
	EventType  string    `gorm:"column:event_type;type:text;not null"`
	APIName    string    `gorm:"column:api_name;type:text;not null"`
	EventTime  time.Time `gorm:"column:event_time;type:timestamptz;not null"`
	Success    bool      `gorm:"column:success;type:boolean;not null"`
	Detail     *string   `gorm:"column:detail;type:text"`
	RunID      *string   `gorm:"column:run_id;type:uuid"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (APIEvent) TableName() string { return "insurewatch.api_events" }

// MatchRun maps insurewatch.match_runs.
type MatchRun struct {
	RunID           string          `gorm:"column:run_id;type:uuid;primaryKey"`
	StartedAt       time.Time       `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt      time.Time       `gorm:"column:finished_at;type:timestamptz;not null"`
	InputCount      int             `gorm:"column:input_count;type:integer;not null"`
	SurvivorCount   int             `gorm:"column:survivor_count;type:integer;not null"`
	ExactNameCount  int             `gorm:"column:exact_name_count;type:integer;not null;default:0"`
	AICount         int             `gorm:"column:ai_count;type:integer;not null;default:0"`
	UnmatchedCount  int             `gorm:"column:unmatched_count;type:integer;not null;default:0"`
	AIFailures      int             `gorm:"column:ai_failures;type:integer;not null;default:0"`
	HallucinatedIDs int             `gorm:"column:hallucinated_ids;type:integer;not null;default:0"`
	SemanticSkipped bool            `gorm:"column:semantic_skipped;type:boolean;not null;default:false"`
	Stats           json.RawMessage `gorm:"column:stats;type:jsonb;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MatchRun) TableName() string { return "insurewatch.match_runs" }

// ArticleMatch maps insurewatch.article_matches, one row per surviving
// article of a run.
type ArticleMatch struct {
	ArticleMatchID int64           `gorm:"column:article_match_id;primaryKey;autoIncrement"`
	RunID          string          `gorm:"column:run_id;type:uuid;not null"`
	Position       int             `gorm:"column:position;type:integer;not null"`
	Title          string          `gorm:"column:title;type:text;not null"`
	URL            *string         `gorm:"column:url;type:text"`
	Source         *string         `gorm:"column:source;type:text"`
	PublishedAt    *time.Time      `gorm:"column:published_at;type:timestamptz"`
	EntityIDs      json.RawMessage `gorm:"column:entity_ids;type:jsonb;not null"`
	Method         string          `gorm:"column:method;type:text;not null"`
	Confidence     float64         `gorm:"column:confidence;type:double precision;not null"`
	Reasoning      *string         `gorm:"column:reasoning;type:text"`
	Sources        json.RawMessage `gorm:"column:sources;type:jsonb;not null;default:'[]'"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleMatch) TableName() string { return "insurewatch.article_matches" }

func autoMigrateModels() []any {
	return []any{
		&Insurer{},
		&APIEvent{},
		&MatchRun{},
		&ArticleMatch{},
	}
}
