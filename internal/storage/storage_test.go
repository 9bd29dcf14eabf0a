package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stewardhq/steward/internal/artifact"
)

func TestPlanHash(t *testing.T) {
	h := PlanHash("plan v1")
	assert.Len(t, h, 64)
	assert.True(t, ValidHashFormat(h))
	assert.Equal(t, h, PlanHash("plan v1"))
	assert.NotEqual(t, h, PlanHash("plan v2"))
}

func TestValidHashFormat(t *testing.T) {
	assert.False(t, ValidHashFormat(""))
	assert.False(t, ValidHashFormat("abc"))
	assert.False(t, ValidHashFormat(PlanHash("x")[:63]+"G"))
	assert.False(t, ValidHashFormat(PlanHash("x")+"0"))
}

func TestApprovalMatches(t *testing.T) {
	content := "plan v1"
	good := artifact.EncodePlanApproval(PlanHash(content), time.Now(), "s")

	assert.True(t, ApprovalMatches(&good, content))
	assert.False(t, ApprovalMatches(&good, "plan v2"))
	assert.False(t, ApprovalMatches(nil, content))

	noHash := artifact.EncodePlanApproval("", time.Now(), "s")
	assert.False(t, ApprovalMatches(&noHash, content))

	badHash := artifact.EncodePlanApproval("not-a-digest", time.Now(), "s")
	assert.False(t, ApprovalMatches(&badHash, content))
}

func TestValidationError(t *testing.T) {
	err := Validationf("bad folder %q", "x")
	assert.True(t, IsValidation(err))
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsValidation(errors.New("other")))
	assert.Equal(t, `bad folder "x"`, err.Error())
}
