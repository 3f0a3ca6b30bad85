package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan run statuses. "degraded" means the pipeline produced a usable zone set
// below the quality bar (e.g. low validation score); "error" carries a
// human-readable validation error instead of zones.
const (
	PlanStatusSuccess  = "success"
	PlanStatusDegraded = "degraded"
	PlanStatusError    = "error"
)

type ZonePlanRun struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	QuestionText     string         `gorm:"column:question_text;not null" json:"question_text"`
	Subject          string         `gorm:"column:subject;not null;index" json:"subject"`
	Status           string         `gorm:"column:status;not null" json:"status"`
	ValidationError  string         `gorm:"column:validation_error" json:"validation_error,omitempty"`
	ImagePath        string         `gorm:"column:image_path" json:"image_path,omitempty"`
	ImageMethod      string         `gorm:"column:image_method" json:"image_method,omitempty"`
	MultiScene       bool           `gorm:"column:multi_scene;not null;default:false" json:"multi_scene"`
	SceneCount       int            `gorm:"column:scene_count;not null;default:1" json:"scene_count"`
	ValidationScore  float64        `gorm:"column:validation_score" json:"validation_score"`
	DetectionModel   string         `gorm:"column:detection_model" json:"detection_model,omitempty"`
	DetectionMethod  string         `gorm:"column:detection_method" json:"detection_method,omitempty"`
	DetectionRetries int            `gorm:"column:detection_retries;not null;default:0" json:"detection_retries"`
	Zones            datatypes.JSON `gorm:"column:zones;type:jsonb" json:"zones,omitempty"`
	ZoneGroups       datatypes.JSON `gorm:"column:zone_groups;type:jsonb" json:"zone_groups,omitempty"`
	Constraints      datatypes.JSON `gorm:"column:constraints;type:jsonb" json:"constraints,omitempty"`
	CollisionMeta    datatypes.JSON `gorm:"column:collision_meta;type:jsonb" json:"collision_meta,omitempty"`
	Trace            datatypes.JSON `gorm:"column:trace;type:jsonb" json:"trace,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ZonePlanRun) TableName() string { return "zone_plan_run" }

// ZoneRecord is the per-zone row persisted alongside a plan run so the
// session layer can reload zones without unpacking the run JSON.
type ZoneRecord struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	Run       *ZonePlanRun   `gorm:"constraint:OnDelete:CASCADE;foreignKey:RunID;references:ID" json:"run,omitempty"`
	ZoneID    string         `gorm:"column:zone_id;not null;index" json:"zone_id"`
	Label     string         `gorm:"column:label;not null" json:"label"`
	Shape     string         `gorm:"column:shape;not null" json:"shape"`
	Scene     int            `gorm:"column:scene;not null;default:1" json:"scene"`
	Level     int            `gorm:"column:level;not null;default:1" json:"level"`
	ParentID  string         `gorm:"column:parent_id" json:"parent_id,omitempty"`
	Geometry  datatypes.JSON `gorm:"column:geometry;type:jsonb" json:"geometry,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ZoneRecord) TableName() string { return "zone_record" }
