package gate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

func newTestGate() *Gate {
	return New(Config{
		MinConfidence: 70,
		Suppressed:    []string{"spotted lanternfly"},
	}, logger.NewNopLogger())
}

func TestAdmit_Threshold(t *testing.T) {
	g := newTestGate()

	tests := []struct {
		name       string
		confidence float64
		admitted   bool
		percent    float64
	}{
		{"exactly at threshold", 0.70, true, 70},
		{"just below", 0.6999, false, 0},
		{"well below", 0.65, false, 0},
		{"rounded to two decimals", 0.87654, true, 87.65},
		{"certain", 1.0, true, 100},
		// the comparison uses the stored two-decimal percentage
		{"rounds up to threshold", 0.69996, true, 70},
		{"rounds down below threshold", 0.69994, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := g.Admit(Detection{Label: "Ant", Confidence: tt.confidence, ImagePath: "runs/detect/exp/ant.jpg"})
			if !tt.admitted {
				assert.Nil(t, e)
				assert.True(t, errors.Is(err, ErrBelowThreshold))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.percent, e.Confidence)
		})
	}
}

func TestAdmit_Suppressed(t *testing.T) {
	g := newTestGate()

	for _, label := range []string{"spotted lanternfly", "Spotted Lanternfly", " SPOTTED LANTERNFLY "} {
		e, err := g.Admit(Detection{Label: label, Confidence: 0.99})
		assert.Nil(t, e, label)
		assert.ErrorIs(t, err, ErrSuppressed, label)
	}
}

func TestAdmit_ThresholdCheckedFirst(t *testing.T) {
	g := newTestGate()

	_, err := g.Admit(Detection{Label: "spotted lanternfly", Confidence: 0.5})
	assert.ErrorIs(t, err, ErrBelowThreshold)
}

func TestAdmit_BuildsShell(t *testing.T) {
	g := newTestGate()
	bbox := &events.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 140}

	e, err := g.Admit(Detection{
		Label:      "Box Tree Moth",
		Confidence: 0.92,
		ImagePath:  "/tmp/moth.jpg",
		BBox:       bbox,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "Box Tree Moth", e.SpeciesName)
	assert.Equal(t, "Cydalima perspectalis", e.ScientificName)
	assert.Equal(t, 92.0, e.Confidence)
	assert.Equal(t, RiskInvasive, e.RiskLevel)
	assert.Equal(t, events.UnknownSnapshot(), e.Sensor)
	assert.Equal(t, "/tmp/moth.jpg", e.Image.Path)
	assert.Equal(t, state.StatusPending, e.Status)
	assert.Equal(t, events.CapturedAt{}, e.CapturedAt, "the gate never stamps time")

	require.NotNil(t, e.BoundingBox)
	assert.Equal(t, *bbox, *e.BoundingBox)
	bbox.Y2 = 0
	assert.Equal(t, 140.0, e.BoundingBox.Y2, "the event owns its box")
}

func TestAdmit_UnknownSpecies(t *testing.T) {
	g := newTestGate()

	e, err := g.Admit(Detection{Label: "mystery beetle", Confidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, events.Unknown, e.ScientificName)
	assert.Equal(t, RiskBenign, e.RiskLevel)
}

func TestAdmit_UniqueIDs(t *testing.T) {
	g := newTestGate()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e, err := g.Admit(Detection{Label: "ant", Confidence: 0.9})
		require.NoError(t, err)
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
	}
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, 20, c.Len())
	assert.Equal(t, "Vespa crabro", c.ScientificName("Northern Hornet"))
	assert.Equal(t, RiskNuisance, c.RiskLevel("northern hornet"))
	assert.Equal(t, RiskNuisance, c.RiskLevel("Stink Bugs"))
	assert.Equal(t, RiskBenign, c.RiskLevel("ladybug"))
	assert.Equal(t, "", c.ScientificName("unicorn"))

	custom := NewCatalog(
		map[string]string{"Emerald Ash Borer": "Agrilus planipennis"},
		map[string]int{"Emerald Ash Borer": RiskInvasive, "ant": RiskNuisance},
	)
	assert.Equal(t, 21, custom.Len())
	assert.Equal(t, "Agrilus planipennis", custom.ScientificName("emerald ash borer"))
	assert.Equal(t, RiskInvasive, custom.RiskLevel("EMERALD ASH BORER"))
	assert.Equal(t, RiskNuisance, custom.RiskLevel("Ant"))

	// Overrides never leak into the defaults
	assert.Equal(t, RiskBenign, DefaultCatalog().RiskLevel("ant"))
}
