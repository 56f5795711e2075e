package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequirementIgnoresMarkers(t *testing.T) {
	content := map[string]any{
		"scope": []any{"login"},
		"assumptions": []any{
			map[string]any{
				"id": "Q1", "question": "OTP channel?", "status": "pending",
				"priority": "P0", DiffKey: DiffModified,
				PrevKey: map[string]any{"status": "confirmed"},
			},
		},
	}

	doc, err := DecodeRequirement(content)
	require.NoError(t, err)
	require.Len(t, doc.Assumptions, 1)
	assert.Equal(t, "Q1", doc.Assumptions[0].ID)
	assert.Equal(t, AssumptionPending, doc.Assumptions[0].Status)

	// Decoding must not strip markers from the caller's copy.
	item := content["assumptions"].([]any)[0].(map[string]any)
	assert.Contains(t, item, DiffKey)
}

func TestEncodeRoundTrip(t *testing.T) {
	doc := &RequirementDoc{
		Scope: []string{"login API"},
		Assumptions: []Assumption{
			{ID: "Q1", Question: "OTP channel?", Status: AssumptionPending, Priority: PriorityP0},
		},
	}

	m, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := DecodeRequirement(m)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestComputeCaseStats(t *testing.T) {
	doc := &CasesDoc{
		Cases: []Case{
			{ID: "C1", Tags: []string{"P0", "smoke"}},
			{ID: "C2", Tags: []string{"P0"}},
			{ID: "C3"},
		},
	}

	stats := ComputeCaseStats(doc)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByTag["P0"])
	assert.Equal(t, 1, stats.ByTag["smoke"])
}

func TestRenderMarkdownRequirement(t *testing.T) {
	content := map[string]any{
		"scope": []any{"POST /api/login"},
		"rules": []any{
			map[string]any{"id": "R1", "desc": "lock after 5 failures", "source": "user"},
		},
		"assumptions": []any{
			map[string]any{"id": "Q1", "question": "OTP channel?", "status": "pending", "priority": "P0"},
		},
	}

	md := RenderMarkdown(KeyTestDesignRequirements, content)
	assert.Contains(t, md, "POST /api/login")
	assert.Contains(t, md, "R1")
	assert.Contains(t, md, "| Q1 |")
}

func TestRenderMarkdownPassesThroughStrings(t *testing.T) {
	assert.Equal(t, "# Outline", RenderMarkdown(KeyTestDesignStrategy, "# Outline"))

	body := map[string]any{"markdown_body": "# Outline"}
	assert.Equal(t, "# Outline", RenderMarkdown(KeyTestDesignStrategy, body))
}

func TestRenderMarkdownCases(t *testing.T) {
	content := map[string]any{
		"cases": []any{
			map[string]any{
				"id": "C1", "title": "valid login",
				"steps": []any{
					map[string]any{"action": "submit valid creds", "expect": "200 with token"},
				},
				"tags": []any{"P0"},
			},
		},
		"stats": map[string]any{"total": float64(1)},
	}

	md := RenderMarkdown(KeyTestDesignCases, content)
	assert.True(t, strings.Contains(md, "C1"))
	assert.Contains(t, md, "submit valid creds")
	assert.Contains(t, md, "共 1 条用例")
}
