package model_test

import (
	"testing"
	"time"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDedupeKey_SortsSlots verifies that the key does not depend on map iteration order.
func TestDedupeKey_SortsSlots(t *testing.T) {
	slots := map[string]string{"SUBJECT": "lamp", "OBJECT": "chair", "MATERIAL": "glass"}
	assert.Equal(t, "material_paradox|MATERIAL=glass|OBJECT=chair|SUBJECT=lamp", model.DedupeKey("material_paradox", slots))
	assert.Equal(t, "macro_micro", model.DedupeKey("macro_micro", nil))
}

func TestBatchKey_RoundTrip(t *testing.T) {
	key := model.BatchKey("4cats", "explore_r2", 17)
	assert.Equal(t, "4cats:explore_r2:17", key)

	profile, plan, idx, err := model.ParseBatchKey(key)
	require.NoError(t, err)
	assert.Equal(t, "4cats", profile)
	assert.Equal(t, "explore_r2", plan)
	assert.Equal(t, 17, idx)
}

func TestParseBatchKey_Malformed(t *testing.T) {
	_, _, _, err := model.ParseBatchKey("only:two")
	assert.Error(t, err)

	profile, plan, _, err := model.ParseBatchKey("p:plan:x")
	assert.Error(t, err)
	assert.Equal(t, "p", profile)
	assert.Equal(t, "plan", plan)
}

func TestParseJobState(t *testing.T) {
	cases := map[string]model.JobState{
		"JOB_STATE_SUCCEEDED":   model.JobStateSucceeded,
		"BATCH_STATE_SUCCEEDED": model.JobStateSucceeded,
		"JOB_STATE_FAILED":      model.JobStateFailed,
		"JOB_STATE_CANCELLED":   model.JobStateFailed,
		"JOB_STATE_EXPIRED":     model.JobStateFailed,
		"JOB_STATE_RUNNING":     model.JobStateRunning,
		"JOB_STATE_PENDING":     model.JobStateQueued,
		"JOB_STATE_QUEUED":      model.JobStateQueued,
		"":                      model.JobStateUnknown,
		"SOMETHING_ELSE":        model.JobStateUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, model.ParseJobState(raw), raw)
	}
	assert.True(t, model.JobStateSucceeded.IsTerminal())
	assert.True(t, model.JobStateFailed.IsTerminal())
	assert.False(t, model.JobStateRunning.IsTerminal())
}

func TestManifestRecord_MarkErrorThenSuccess(t *testing.T) {
	item := &model.PlanItem{Index: 3, PlanName: "p", Profile: "prof", AxisID: "a", GenerationType: model.GenerationStandard}
	rec := model.NewManifestRecord("run_1", item, fixedTime)
	assert.Equal(t, model.StatusPending, rec.Status)

	rec.MarkError(model.ErrorTypeRateLimited, "quota exceeded", 429, 3)
	assert.Equal(t, model.StatusError, rec.Status)
	require.NotNil(t, rec.HTTPStatus)
	assert.Equal(t, 429, *rec.HTTPStatus)

	rec.MarkSuccess("x.png", 1, 2, []string{"x_thought_01.png"}, 1)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Nil(t, rec.HTTPStatus)
	assert.Empty(t, rec.ErrorType)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, model.ItemKey{PlanName: "p", Index: 3}, rec.Key())
}

func TestErrorType_Retryable(t *testing.T) {
	assert.False(t, model.ErrorTypeSafetyBlocked.IsRetryable())
	assert.False(t, model.ErrorTypeAuth.IsRetryable())
	assert.True(t, model.ErrorTypeRateLimited.IsRetryable())
	assert.True(t, model.ErrorTypeMissingSource.IsIntegrity())
	assert.False(t, model.ErrorTypeBatch.IsIntegrity())
}

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
