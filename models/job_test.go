package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodedPayloadDegradesOnBadData(t *testing.T) {
	job := &Job{Payload: `{"platform":"ebay","count":3}`}
	payload := job.DecodedPayload()
	assert.Equal(t, "ebay", payload["platform"])

	job.Payload = `{not json`
	assert.Empty(t, job.DecodedPayload())

	job.Payload = ""
	assert.Empty(t, job.DecodedPayload())
}

func TestItemErrorsRoundTrip(t *testing.T) {
	job := &Job{}
	job.SetItemErrors([]ItemError{{ItemID: "a", Message: "not found"}})

	errs := job.ItemErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "a", errs[0].ItemID)

	// bad stored data degrades to empty
	job.Errors = "[broken"
	assert.Nil(t, job.ItemErrors())

	job.SetItemErrors(nil)
	assert.Empty(t, job.Errors)
}

func TestRecomputeProgress(t *testing.T) {
	job := &Job{TotalItems: 3, CompletedItems: 1, FailedItems: 0}
	job.RecomputeProgress()
	assert.Equal(t, 33, job.Progress)

	job.CompletedItems = 2
	job.RecomputeProgress()
	assert.Equal(t, 67, job.Progress)

	job.TotalItems = 0
	job.RecomputeProgress()
	assert.Equal(t, 0, job.Progress)
}

func TestJobIsTerminal(t *testing.T) {
	for _, status := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		assert.True(t, (&Job{Status: status}).IsTerminal())
	}
	for _, status := range []string{JobStatusPending, JobStatusRunning} {
		assert.False(t, (&Job{Status: status}).IsTerminal())
	}
}

func TestBulkOperationFinalize(t *testing.T) {
	op := &BulkOperation{Total: 2, Completed: 0, Failed: 2, Status: BulkOpStatusRunning}
	op.Finalize(op.CreatedAt)
	assert.Equal(t, BulkOpStatusFailed, op.Status)

	// any completion at all counts as completed
	op = &BulkOperation{Total: 2, Completed: 1, Failed: 1, Status: BulkOpStatusRunning}
	op.Finalize(op.CreatedAt)
	assert.Equal(t, BulkOpStatusCompleted, op.Status)

	// an empty batch completes
	op = &BulkOperation{Status: BulkOpStatusRunning}
	op.Finalize(op.CreatedAt)
	assert.Equal(t, BulkOpStatusCompleted, op.Status)
	require.NotNil(t, op.CompletedAt)
}

func TestRuleParamsRoundTrip(t *testing.T) {
	amount := 1.5
	rule := &PricingRule{}
	rule.SetParams(RuleParams{BeatByAmount: &amount})

	params := rule.DecodedParams()
	require.NotNil(t, params.BeatByAmount)
	assert.InDelta(t, 1.5, *params.BeatByAmount, 0.0001)

	rule.Params = "{malformed"
	assert.Nil(t, rule.DecodedParams().BeatByAmount)
}
