package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/reelforge/transcoder/internal/model"
)

// jobRecord is the gorm row backing one job, JSON-serializing the parts
// of Job.Snapshot that don't map to a scalar column rather than
// modeling every nested field relationally.
type jobRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(64)"`
	VideoID      string `gorm:"index;type:varchar(64);not null"`
	Status       string `gorm:"type:varchar(32);not null;index"`
	Progress     int
	CurrentStage string
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null;index"`
	StartedAt    time.Time
	CompletedAt  time.Time
	Formats      string `gorm:"type:text"`
	Metadata     string `gorm:"type:text"`
	OutputFiles  string `gorm:"type:text"`
}

func (jobRecord) TableName() string { return "transcode_jobs" }

func recordFromSnapshot(s model.Snapshot) (jobRecord, error) {
	formats, err := json.Marshal(s.Formats)
	if err != nil {
		return jobRecord{}, err
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return jobRecord{}, err
	}
	outputs, err := json.Marshal(s.OutputFiles)
	if err != nil {
		return jobRecord{}, err
	}
	return jobRecord{
		ID:           s.ID,
		VideoID:      s.VideoID,
		Status:       string(s.Status),
		Progress:     s.Progress,
		CurrentStage: s.CurrentStage,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		Formats:      string(formats),
		Metadata:     string(meta),
		OutputFiles:  string(outputs),
	}, nil
}

// DurableStore persists job snapshots to a SQL database via gorm. The
// Transcode Manager schedules live *model.Job records through Registry;
// DurableStore is a secondary sink a caller can additionally write
// snapshots to for crash recovery or audit, rather than the manager's
// primary read path.
type DurableStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewDurableStore opens (migrating if needed) a gorm-backed job store.
func NewDurableStore(db *gorm.DB, logger hclog.Logger) (*DurableStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("registry: migrating job table: %w", err)
	}
	return &DurableStore{db: db, logger: logger.Named("registry-durable")}, nil
}

// Save upserts the current snapshot of job.
func (d *DurableStore) Save(job *model.Job) error {
	rec, err := recordFromSnapshot(job.Snapshot())
	if err != nil {
		return fmt.Errorf("registry: serializing job %s: %w", job.ID, err)
	}
	if err := d.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("registry: persisting job %s: %w", job.ID, err)
	}
	return nil
}

// LoadSnapshot reads back a persisted job snapshot by id, for recovery
// tooling or audits; it is not consulted on the manager's hot path.
func (d *DurableStore) LoadSnapshot(id string) (model.Snapshot, bool, error) {
	var rec jobRecord
	err := d.db.Where("id = ?", id).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("registry: loading job %s: %w", id, err)
	}

	var formats []model.VideoFormat
	var meta model.Metadata
	var outputs []model.OutputFile
	if err := json.Unmarshal([]byte(rec.Formats), &formats); err != nil {
		return model.Snapshot{}, false, err
	}
	if err := json.Unmarshal([]byte(rec.Metadata), &meta); err != nil {
		return model.Snapshot{}, false, err
	}
	if err := json.Unmarshal([]byte(rec.OutputFiles), &outputs); err != nil {
		return model.Snapshot{}, false, err
	}

	return model.Snapshot{
		ID:           rec.ID,
		VideoID:      rec.VideoID,
		Status:       model.Status(rec.Status),
		Progress:     rec.Progress,
		CurrentStage: rec.CurrentStage,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		ErrorMessage: rec.ErrorMessage,
		Metadata:     meta,
		OutputFiles:  outputs,
		Formats:      formats,
	}, true, nil
}
