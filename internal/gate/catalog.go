package gate

import "strings"

// Risk levels used by the response sequence
const (
	RiskBenign   = 0
	RiskNuisance = 1
	RiskInvasive = 2
)

// Catalog maps detector labels to binomial names and risk levels. Lookups are
// case-insensitive.
type Catalog struct {
	scientific map[string]string
	risk       map[string]int
}

var defaultScientific = map[string]string{
	"box tree moth":      "Cydalima perspectalis",
	"northern hornet":    "Vespa crabro",
	"spotted lanternfly": "Lycorma delicatula",
	"japanese beetle":    "Popillia japonica",
	"stink bugs":         "Pentatomidae",
	"ant":                "Formicidae",
	"bumble bee":         "Bombus",
	"ladybug":            "Coccinellidae",
	"monarch butterfly":  "Danaus plexippus",
	"wolf spider":        "Lycosidae",
	"creeping thistle":   "Cirsium arvense",
	"himalayan balsam":   "Impatiens glandulifera",
	"japanese knotweed":  "Reynoutria japonica",
	"leafy spurge":       "Euphorbia esula",
	"purple loosestrife": "Lythrum salicaria",
	"common lilac":       "Syringa vulgaris",
	"common milkweed":    "Asclepias syriaca",
	"common yarrow":      "Achillea millefolium",
	"red osier dogwood":  "Cornus sericea",
	"staghorn sumac":     "Rhus typhina",
}

// Anything not listed is benign
var defaultRisk = map[string]int{
	"box tree moth":      RiskInvasive,
	"northern hornet":    RiskNuisance,
	"spotted lanternfly": RiskInvasive,
	"japanese beetle":    RiskInvasive,
	"stink bugs":         RiskNuisance,
	"creeping thistle":   RiskInvasive,
	"himalayan balsam":   RiskInvasive,
	"japanese knotweed":  RiskInvasive,
	"leafy spurge":       RiskInvasive,
	"purple loosestrife": RiskInvasive,
}

// DefaultCatalog returns the built-in species tables
func DefaultCatalog() *Catalog {
	return NewCatalog(nil, nil)
}

// NewCatalog returns the built-in tables with the given overrides applied on
// top. Either map may be nil.
func NewCatalog(scientific map[string]string, risk map[string]int) *Catalog {
	c := &Catalog{
		scientific: make(map[string]string, len(defaultScientific)+len(scientific)),
		risk:       make(map[string]int, len(defaultRisk)+len(risk)),
	}
	for k, v := range defaultScientific {
		c.scientific[k] = v
	}
	for k, v := range defaultRisk {
		c.risk[k] = v
	}
	for k, v := range scientific {
		c.scientific[normalize(k)] = v
	}
	for k, v := range risk {
		c.risk[normalize(k)] = v
	}
	return c
}

// ScientificName returns the binomial for a label, or "" if unknown
func (c *Catalog) ScientificName(label string) string {
	return c.scientific[normalize(label)]
}

// RiskLevel returns the risk level for a label
func (c *Catalog) RiskLevel(label string) int {
	return c.risk[normalize(label)]
}

// Len returns the number of species with a known binomial
func (c *Catalog) Len() int {
	return len(c.scientific)
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
