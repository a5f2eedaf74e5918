package models

// ShareMapping links one sub-district to one constituency with the fraction of
// the sub-district attributed to it. Shares for one sub-district should sum to
// at most 1; that is a data-quality concern, not a runtime failure.
type ShareMapping struct {
	Row          int     `json:"row"`
	StateCode    string  `json:"state_code"`
	SubDistrict  string  `json:"sub_district"`
	Constituency string  `json:"constituency"`
	District     string  `json:"district,omitempty"`
	Share        float64 `json:"share"`
}

// Allocation is a measured quantity multiplied by a share and attributed to a
// constituency. Allocations are never persisted on their own.
type Allocation struct {
	Constituency string  `json:"constituency"`
	Year         int     `json:"year"`
	Category     string  `json:"category"`
	Amount       float64 `json:"amount"`
}
