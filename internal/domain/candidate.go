package domain

import (
	"encoding/json"
	"fmt"
)

// SizeOption is the single tagged shape all size representations are
// normalized into the moment data enters the core. The agent sometimes sends
// a plain string ("M") and sometimes a structured record with a backing id;
// nothing past this boundary may branch on the wire representation.
type SizeOption struct {
	Label     string `json:"label"`
	BackingID int64  `json:"backing_id,omitempty"`
}

// UnmarshalJSON accepts either a bare string or an object with id/label
// (or name/size) fields.
func (s *SizeOption) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var label string
		if err := json.Unmarshal(data, &label); err != nil {
			return fmt.Errorf("decode size label: %w", err)
		}
		s.Label = label
		s.BackingID = 0
		return nil
	}

	var aux struct {
		ID    int64  `json:"id"`
		Label string `json:"label"`
		Name  string `json:"name"`
		Size  string `json:"size"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode size record: %w", err)
	}

	label := aux.Label
	if label == "" {
		label = aux.Name
	}
	if label == "" {
		label = aux.Size
	}
	s.Label = label
	s.BackingID = aux.ID
	return nil
}

// DisplayCandidate is the flattened, renderer-agnostic product shape every
// backend record variant is converted into. Fields absent in the source stay
// at their zero value; nothing is fabricated.
type DisplayCandidate struct {
	Brand      string       `json:"brand,omitempty"`
	Name       string       `json:"name,omitempty"`
	Price      int64        `json:"price,omitempty"`
	ImageURL   string       `json:"image_url,omitempty"`
	SourceURL  string       `json:"source_url,omitempty"`
	Sizes      []SizeOption `json:"sizes,omitempty"`
	MatchScore *float64     `json:"match_score,omitempty"`
	Index      int          `json:"index"`
}
