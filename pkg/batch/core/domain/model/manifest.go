package model

import "time"

// Status is the outcome recorded on a ManifestRecord.
type Status string

const (
	StatusUnset   Status = ""
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IsFailure reports whether the status, or the legacy spellings written by
// older tooling, describes a failed attempt.
func (s Status) IsFailure() bool {
	switch s {
	case StatusError, "failed", "failure":
		return true
	}
	return false
}

// SafetyRating is one category/probability pair reported by the remote service.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

// ResponseMetadata holds the audit fields copied from a remote response.
type ResponseMetadata struct {
	FinishReason  string         `json:"finish_reason,omitempty"`
	SafetyRatings []SafetyRating `json:"safety_ratings,omitempty"`
	ModelVersion  string         `json:"model_version,omitempty"`
	BatchKey      string         `json:"batch_key,omitempty"`
	BatchOutput   string         `json:"batch_output,omitempty"`
}

// ManifestRecord is one execution attempt of a PlanItem. Records are only ever
// appended; the latest record per (PlanName, Index) is authoritative.
type ManifestRecord struct {
	RunID           string    `json:"run_id"`
	AttemptID       string    `json:"attempt_id,omitempty"`
	Profile         string    `json:"profile"`
	PlanName        string    `json:"plan_name"`
	Index           int       `json:"index"`
	CreatedAt       time.Time `json:"created_at"`
	Model           string    `json:"model"`
	ImageResolution string    `json:"image_resolution"`

	AxisID         string            `json:"axis_id"`
	AxisPair       []string          `json:"axis_pair,omitempty"`
	Bundle         string            `json:"bundle,omitempty"`
	DomainID       string            `json:"domain_id,omitempty"`
	TemplateText   string            `json:"template_text,omitempty"`
	FinalPrompt    string            `json:"final_prompt"`
	HintsUsed      []string          `json:"hints_used,omitempty"`
	Slots          map[string]string `json:"slots,omitempty"`
	SlotTags       map[string]string `json:"slot_tags,omitempty"`
	GenerationType GenerationType    `json:"generation_type"`
	SourcePlan     string            `json:"source_plan,omitempty"`
	SourceIndex    *int              `json:"source_index,omitempty"`

	Status             Status            `json:"status"`
	ImagePartIndex     *int              `json:"image_part_index"`
	TotalImageParts    *int              `json:"total_image_parts"`
	IsThought          *bool             `json:"is_thought"`
	ThoughtImagesSaved []string          `json:"thought_images_saved"`
	FinalImageFilename string            `json:"final_image_filename,omitempty"`
	ResponseMetadata   *ResponseMetadata `json:"response_metadata"`

	Error      string    `json:"error,omitempty"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
	HTTPStatus *int      `json:"http_status"`
	RetryCount int       `json:"retry_count"`

	BatchKey    string `json:"batch_key,omitempty"`
	BatchOutput string `json:"batch_output,omitempty"`
	BatchJob    string `json:"batch_job,omitempty"`
}

// Key returns the tracker key of the record.
func (r *ManifestRecord) Key() ItemKey {
	return ItemKey{PlanName: r.PlanName, Index: r.Index}
}

// NewManifestRecord copies the denormalized plan fields of an item into a
// pending record.
func NewManifestRecord(runID string, item *PlanItem, createdAt time.Time) *ManifestRecord {
	return &ManifestRecord{
		RunID:              runID,
		Profile:            item.Profile,
		PlanName:           item.PlanName,
		Index:              item.Index,
		CreatedAt:          createdAt,
		AxisID:             item.AxisID,
		AxisPair:           item.AxisPair,
		Bundle:             item.Bundle,
		DomainID:           item.DomainID,
		TemplateText:       item.TemplateText,
		FinalPrompt:        item.FinalPrompt,
		HintsUsed:          item.HintsUsed,
		Slots:              item.Slots,
		SlotTags:           item.SlotTags,
		GenerationType:     item.GenerationType,
		SourcePlan:         item.SourcePlan,
		SourceIndex:        item.SourceIndex,
		Status:             StatusPending,
		ThoughtImagesSaved: []string{},
	}
}

// MarkError turns the record into a terminal failure.
func (r *ManifestRecord) MarkError(errType ErrorType, message string, httpStatus int, retryCount int) {
	r.Status = StatusError
	r.ErrorType = errType
	r.Error = message
	r.RetryCount = retryCount
	r.HTTPStatus = nil
	if httpStatus != 0 {
		status := httpStatus
		r.HTTPStatus = &status
	}
	r.ImagePartIndex = nil
	r.TotalImageParts = nil
	r.IsThought = nil
	r.FinalImageFilename = ""
	r.ThoughtImagesSaved = []string{}
}

// MarkSuccess records the saved artifacts of a successful attempt.
func (r *ManifestRecord) MarkSuccess(filename string, finalIndex, totalParts int, thoughts []string, retryCount int) {
	notThought := false
	r.Status = StatusSuccess
	r.FinalImageFilename = filename
	r.ImagePartIndex = &finalIndex
	r.TotalImageParts = &totalParts
	r.IsThought = &notThought
	if thoughts == nil {
		thoughts = []string{}
	}
	r.ThoughtImagesSaved = thoughts
	r.Error = ""
	r.ErrorType = ErrorTypeNone
	r.HTTPStatus = nil
	r.RetryCount = retryCount
}
