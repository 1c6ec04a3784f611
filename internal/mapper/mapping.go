package mapper

import (
	"encoding/json"
	"os"
	"sync/atomic"
)

// Mapping holds the CRM-side identifiers the relay writes to: pipeline
// category, stage ids, custom-field ids and the region-code option table.
// Values default to the production CRM configuration and can be overridden
// from a JSON file.
type Mapping struct {
	CategoryID int    `json:"category_id"`
	StageNew   string `json:"stage_new"`
	StageWon   string `json:"stage_won"`
	StageLost  string `json:"stage_lost"`

	FieldExternalID   string `json:"field_external_id"`
	FieldCity         string `json:"field_city"`
	FieldState        string `json:"field_state"`
	FieldSeller       string `json:"field_seller"`
	FieldInterestPaid string `json:"field_interest_paid"`
	FieldTrackingCode string `json:"field_tracking_code"`
	FieldLoyalty      string `json:"field_loyalty"`

	// RegionMap maps two-letter region codes to CRM enumeration option ids.
	RegionMap map[string]string `json:"region_map"`

	// CancellationOverridesWon controls the tie-break when an order carries
	// both a cancellation signal and a paid financial status. The CRM team
	// has not settled this, so it stays configurable.
	CancellationOverridesWon bool `json:"cancellation_overrides_won"`
}

func Defaults() Mapping {
	return Mapping{
		CategoryID:        7,
		StageNew:          "C7:NEW",
		StageWon:          "C7:WON",
		StageLost:         "C7:LOSE",
		FieldExternalID:   "UF_CRM_1763463761",
		FieldCity:         "UF_CRM_68F66E44278DC",
		FieldState:        "UF_CRM_68F66E4434B01",
		FieldSeller:       "UF_CRM_1764318998507",
		FieldInterestPaid: "UF_CRM_1764319334638",
		FieldTrackingCode: "UF_CRM_1764319745210",
		FieldLoyalty:      "UF_CRM_1764326319407",
		RegionMap: map[string]string{
			"AC": "423", "AL": "425", "AP": "427", "AM": "429",
			"BA": "431", "CE": "433", "DF": "435", "ES": "437",
			"GO": "439", "MA": "441", "MT": "443", "MS": "445",
			"MG": "447", "PA": "449", "PB": "451", "PR": "453",
			"PE": "455", "PI": "457", "RJ": "459", "RN": "461",
			"RS": "463", "RO": "465", "RR": "467", "SC": "469",
			"SP": "471", "SE": "473", "TO": "475",
		},
	}
}

// LoadFile reads a mapping override file on top of the defaults. Keys absent
// from the file keep their default values; region_map replaces the table
// wholesale when present.
func LoadFile(path string) (Mapping, error) {
	m := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Table is the process-wide mapping handle. Readers always see a complete
// Mapping; reloads swap the pointer atomically.
type Table struct {
	current atomic.Pointer[Mapping]
}

func NewTable(m Mapping) *Table {
	t := &Table{}
	t.current.Store(&m)
	return t
}

func (t *Table) Current() *Mapping {
	return t.current.Load()
}

func (t *Table) Replace(m Mapping) {
	t.current.Store(&m)
}
