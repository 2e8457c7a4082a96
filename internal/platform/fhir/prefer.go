package fhir

import "strings"

// HandlingPreference is the Prefer handling directive. With handling=strict
// unknown search parameters are rejected instead of ignored.
type HandlingPreference string

const (
	HandlingStrict  HandlingPreference = "strict"
	HandlingLenient HandlingPreference = "lenient"
)

// PreferReturnPreference represents the FHIR Prefer return directive value.
type PreferReturnPreference string

const (
	ReturnMinimal          PreferReturnPreference = "minimal"
	ReturnRepresentation   PreferReturnPreference = "representation"
	ReturnOperationOutcome PreferReturnPreference = "OperationOutcome"
)

// PreferDirective holds all parsed directives from a single Prefer header value.
type PreferDirective struct {
	Return   PreferReturnPreference
	Handling HandlingPreference
}

// Strict reports whether the client asked for strict handling.
func (d PreferDirective) Strict() bool {
	return d.Handling == HandlingStrict
}

// ParsePreferHeader parses the return and handling directives of a Prefer
// header. Directives may be separated by commas or semicolons; unknown values
// fall back to the defaults (representation, lenient).
func ParsePreferHeader(prefer string) PreferDirective {
	d := PreferDirective{
		Return:   ReturnRepresentation,
		Handling: HandlingLenient,
	}

	// Normalize: replace commas with semicolons so we only split once.
	normalized := strings.ReplaceAll(strings.TrimSpace(prefer), ",", ";")
	for _, part := range strings.Split(normalized, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch strings.TrimSpace(key) {
		case "return":
			switch PreferReturnPreference(val) {
			case ReturnMinimal, ReturnRepresentation, ReturnOperationOutcome:
				d.Return = PreferReturnPreference(val)
			}
		case "handling":
			switch HandlingPreference(val) {
			case HandlingStrict, HandlingLenient:
				d.Handling = HandlingPreference(val)
			}
		}
	}
	return d
}
