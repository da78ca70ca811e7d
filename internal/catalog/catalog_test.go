package catalog

import (
	"testing"

	"dmrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates_OrderIsStable(t *testing.T) {
	c := Default()

	first := c.Candidates(models.OpSend, models.RoleStudent)
	second := c.Candidates(models.OpSend, models.RoleStudent)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Description, second[i].Description)
	}
}

func TestCandidates_ScopeFiltering(t *testing.T) {
	c := Default()

	student := c.Candidates(models.OpSend, models.RoleStudent)
	for _, cand := range student {
		assert.NotEqual(t, models.RoleStaff, cand.Scope, "student list must not contain staff routes")
	}

	staff := c.Candidates(models.OpSend, models.RoleStaff)
	assert.Greater(t, len(staff), len(student), "staff sees the staff-scoped route too")

	admin := c.Candidates(models.OpSend, models.RoleAdmin)
	assert.Equal(t, len(staff), len(admin), "staff routes are open to admins")
}

func TestCandidates_ReturnsCopy(t *testing.T) {
	c := Default()

	list := c.Candidates(models.OpFetch, models.RoleStudent)
	require.NotEmpty(t, list)
	list[0].Description = "mutated"

	fresh := c.Candidates(models.OpFetch, models.RoleStudent)
	assert.NotEqual(t, "mutated", fresh[0].Description)
}

func TestApplyReport_PromotesVerifiedFormats(t *testing.T) {
	c := Default()
	before := c.Candidates(models.OpSend, models.RoleAdmin)

	report := &models.DiagnosticReport{
		SuccessfulFormats: []string{
			"send: raw fallback to/content",
			"send: nested $oid recipient",
		},
	}
	c.ApplyReport(report)

	after := c.Candidates(models.OpSend, models.RoleAdmin)
	require.Equal(t, len(before), len(after), "reordering must never drop a candidate")

	assert.Equal(t, "send: raw fallback to/content", after[0].Description)
	assert.Equal(t, "send: nested $oid recipient", after[1].Description)

	// Unverified candidates keep their original relative order.
	assert.Equal(t, "send: flat recipientId/content", after[2].Description)
	assert.Equal(t, "send: receiver/message", after[3].Description)
}

func TestApplyReport_NilAndEmptyAreNoOps(t *testing.T) {
	c := Default()
	before := c.Candidates(models.OpSend, models.RoleAdmin)

	c.ApplyReport(nil)
	c.ApplyReport(&models.DiagnosticReport{})

	after := c.Candidates(models.OpSend, models.RoleAdmin)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Description, after[i].Description)
	}
}

func TestEligibleFor(t *testing.T) {
	anyCand := models.EndpointCandidate{Scope: models.RoleAny}
	staffCand := models.EndpointCandidate{Scope: models.RoleStaff}
	adminCand := models.EndpointCandidate{Scope: models.RoleAdmin}

	assert.True(t, anyCand.EligibleFor(models.RoleStudent))
	assert.False(t, staffCand.EligibleFor(models.RoleStudent))
	assert.True(t, staffCand.EligibleFor(models.RoleStaff))
	assert.True(t, staffCand.EligibleFor(models.RoleAdmin))
	assert.False(t, adminCand.EligibleFor(models.RoleStaff))
	assert.True(t, adminCand.EligibleFor(models.RoleAdmin))
}

func TestShapes_FieldNames(t *testing.T) {
	flat := flatRecipientShape("u42", "hello", "Chat").(map[string]interface{})
	assert.Equal(t, "u42", flat["recipientId"])
	assert.Equal(t, "hello", flat["content"])

	rm := receiverMessageShape("u42", "hello", "Chat").(map[string]interface{})
	assert.Equal(t, "u42", rm["receiver"])
	assert.Equal(t, "hello", rm["message"])

	oid := nestedOIDShape("u42", "hello", "Chat").(map[string]interface{})
	nested, ok := oid["recipientId"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "u42", nested["$oid"])
}
