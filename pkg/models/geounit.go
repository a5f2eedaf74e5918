package models

// Level is the administrative tier of a GeoUnit
type Level string

const (
	LevelState        Level = "STATE"
	LevelDistrict     Level = "DISTRICT"
	LevelSubDistrict  Level = "SUB_DISTRICT"
	LevelConstituency Level = "CONSTITUENCY"
)

// GeoUnit is a named administrative area. Units are reference data: they are
// loaded once per run and never mutated afterwards.
type GeoUnit struct {
	Name   string   `json:"name"`
	Key    string   `json:"key"`
	Code   string   `json:"code"`
	Level  Level    `json:"level"`
	Number int      `json:"number,omitempty"`
	Parent *GeoUnit `json:"-"`
}

// ParentCode returns the code of the parent unit, or "" for roots
func (u *GeoUnit) ParentCode() string {
	if u.Parent == nil {
		return ""
	}
	return u.Parent.Code
}
