package sql

import "time"

// ManifestEntity is the mirrored form of a manifest record. The queryable
// columns are denormalized; Payload keeps the complete record as JSON.
type ManifestEntity struct {
	AttemptID          string `gorm:"column:attempt_id;primaryKey"`
	RunID              string
	Profile            string
	PlanName           string
	ItemIndex          int
	CreatedAt          time.Time
	Model              string
	ImageResolution    string
	AxisID             string
	GenerationType     string
	Status             string
	ErrorType          string
	ErrorMessage       string
	HTTPStatus         *int `gorm:"column:http_status"`
	RetryCount         int
	FinalImageFilename string
	BatchKey           string
	BatchOutput        string
	BatchJob           string
	Payload            string
}

func (ManifestEntity) TableName() string {
	return "serendip_manifest"
}

// BatchJobEntity is the mirrored form of a ledger row.
type BatchJobEntity struct {
	RowID       string `gorm:"column:row_id;primaryKey"`
	Profile     string
	PlanName    string
	ChunkID     int
	FirstIndex  int
	LastIndex   int
	ItemCount   int
	JobName     string
	InputFile   string
	DisplayName string
	CreatedAt   time.Time
}

func (BatchJobEntity) TableName() string {
	return "serendip_batch_jobs"
}
