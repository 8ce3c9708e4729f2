package models

// Soil and irrigation values accepted by the portal backend.
var (
	SoilTypes       = []string{"Loamy", "Sandy", "Clay", "Black", "Alluvial"}
	IrrigationTypes = []string{"Canal", "Well", "Drip", "Rainfed"}
)

// Field is a farmer's plot as known to the backend.
type Field struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Area       float64 `json:"area"`
	SoilType   string  `json:"soilType"`
	Irrigation string  `json:"irrigation"`
	Village    string  `json:"village,omitempty"`
}

// ValidSoilType reports whether s is one of the backend soil enums.
func ValidSoilType(s string) bool {
	for _, v := range SoilTypes {
		if v == s {
			return true
		}
	}
	return false
}

// ValidIrrigationType reports whether s is one of the backend irrigation enums.
func ValidIrrigationType(s string) bool {
	for _, v := range IrrigationTypes {
		if v == s {
			return true
		}
	}
	return false
}
