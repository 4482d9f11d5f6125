package agent

import (
	"strings"
	"testing"

	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/model/modeltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	h := newHarness(t, modeltest.New())

	assert.Equal(t, []string{"campaign", "list", "message", "crm", "analytics", "segmentation", "research"}, h.registry.Names())
	assert.True(t, h.registry.Has("crm"))
	assert.False(t, h.registry.Has("sales"))

	a, err := h.registry.Get("  Campaign ")
	require.NoError(t, err)
	assert.Equal(t, "campaign", a.Name())

	_, err = h.registry.Get("sales")
	assert.ErrorIs(t, err, brainErrors.ErrUnknownAgent)
}

func TestRegistryDescribe(t *testing.T) {
	h := newHarness(t, modeltest.New())

	lines := strings.Split(strings.TrimSuffix(h.registry.Describe(), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "- campaign: "), lines[0])
	assert.Contains(t, lines[0], "Capabilities: create_campaign, plan_drip_sequence")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	base := NewBase(Deps{})
	_, err := NewRegistry(NewCRM(base), NewCRM(base))
	assert.ErrorIs(t, err, brainErrors.ErrInvalidInput)
}
