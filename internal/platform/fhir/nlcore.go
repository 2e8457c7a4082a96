package fhir

// Dutch naming systems for identifiers.
const (
	SystemBSN = "http://fhir.nl/fhir/NamingSystem/bsn"
	SystemUZI = "http://fhir.nl/fhir/NamingSystem/uzi-nr-pers"
	SystemBIG = "http://fhir.nl/fhir/NamingSystem/big"
	SystemAGB = "http://fhir.nl/fhir/NamingSystem/agb-z"
	SystemURA = "http://fhir.nl/fhir/NamingSystem/ura"
)

// ProfileBase is the canonical prefix of the nl-core StructureDefinitions.
const ProfileBase = "http://nictiz.nl/fhir/StructureDefinition/"

// nl-core profiles served by this server.
const (
	ProfilePatient              = ProfileBase + "nl-core-Patient"
	ProfilePractitioner         = ProfileBase + "nl-core-HealthProfessional-Practitioner"
	ProfileOrganization         = ProfileBase + "nl-core-HealthcareProvider-Organization"
	ProfileLaboratoryTestResult = ProfileBase + "nl-core-LaboratoryTestResult"
	ProfileBodyWeight           = ProfileBase + "nl-core-BodyWeight"
	ProfileBodyHeight           = ProfileBase + "nl-core-BodyHeight"
	ProfileBloodPressure        = ProfileBase + "nl-core-BloodPressure"
	ProfileProblem              = ProfileBase + "nl-core-Problem"
	ProfileAllergyIntolerance   = ProfileBase + "nl-core-AllergyIntolerance"
	ProfileMedicationAgreement  = ProfileBase + "mp-MedicationAgreement"
	ProfileEncounter            = ProfileBase + "nl-core-Encounter"
)

// NamingSystemLabel returns a short label for a Dutch identifier system, or
// "" when the system is not one of them.
func NamingSystemLabel(system string) string {
	switch system {
	case SystemBSN:
		return "BSN"
	case SystemUZI:
		return "UZI"
	case SystemBIG:
		return "BIG"
	case SystemAGB:
		return "AGB"
	case SystemURA:
		return "URA"
	}
	return ""
}

// LOINC codes that select a vital sign profile for an Observation.
const (
	SystemLOINC        = "http://loinc.org"
	LOINCBodyWeight    = "29463-7"
	LOINCBodyHeight    = "8302-2"
	LOINCBloodPressure = "85354-9"
)

// ValidBSN reports whether s is a nine digit BSN passing the eleven test:
// 9*d1 + 8*d2 + ... + 2*d8 - d9 must be a multiple of 11.
func ValidBSN(s string) bool {
	if len(s) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(s[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if i == 8 {
			sum -= d
		} else {
			sum += d * (9 - i)
		}
	}
	return sum%11 == 0 && s != "000000000"
}
