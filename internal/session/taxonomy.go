package session

// ThreatType is the category of threat a scenario simulates.
type ThreatType string

const (
	ThreatPhishing ThreatType = "phishing"
	ThreatVishing  ThreatType = "vishing"
	ThreatBEC      ThreatType = "bec"
	ThreatPhysical ThreatType = "physical"
	ThreatInsider  ThreatType = "insider"
)

// ThreatTypes lists every supported threat category.
var ThreatTypes = []ThreatType{ThreatPhishing, ThreatVishing, ThreatBEC, ThreatPhysical, ThreatInsider}

// IsValidThreatType reports whether t is a known threat category.
func IsValidThreatType(t ThreatType) bool {
	for _, known := range ThreatTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category is a social engineering vulnerability category tested by a
// decision point.
type Category string

const (
	CategoryUrgency   Category = "urgency"
	CategoryAuthority Category = "authority"
	CategoryCuriosity Category = "curiosity"
	CategoryFear      Category = "fear"
	CategoryGreed     Category = "greed"
)

// Categories lists every vulnerability category.
var Categories = []Category{CategoryUrgency, CategoryAuthority, CategoryCuriosity, CategoryFear, CategoryGreed}

// IsValidCategory reports whether c is a known vulnerability category.
func IsValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is the closed taxonomy a user response is classified into when a
// decision is pending. Ordering is from safest to riskiest.
type Action string

const (
	ActionRecognizedAndReported Action = "recognized_and_reported"
	ActionVerifiedFirst         Action = "verified_first"
	ActionHesitatedThenComplied Action = "hesitated_then_complied"
	ActionCompliedImmediately   Action = "complied_immediately"
)

// Actions lists the action taxonomy from safest to riskiest.
var Actions = []Action{
	ActionRecognizedAndReported,
	ActionVerifiedFirst,
	ActionHesitatedThenComplied,
	ActionCompliedImmediately,
}

// IsValidAction reports whether a is a known action classification.
func IsValidAction(a Action) bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}
