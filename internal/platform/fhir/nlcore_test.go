package fhir

import "testing"

func TestValidBSN(t *testing.T) {
	tests := map[string]bool{
		"999911120":  true,
		"999990019":  true,
		"123456782":  true,
		"123456789":  false,
		"99991112":   false,
		"9999111200": false,
		"99991112a":  false,
		"000000000":  false,
	}
	for bsn, want := range tests {
		if got := ValidBSN(bsn); got != want {
			t.Errorf("ValidBSN(%q) = %v, want %v", bsn, got, want)
		}
	}
}

func TestNamingSystemLabel(t *testing.T) {
	if NamingSystemLabel(SystemBSN) != "BSN" || NamingSystemLabel(SystemURA) != "URA" {
		t.Error("unexpected label for Dutch naming system")
	}
	if NamingSystemLabel("urn:oid:1.2.3") != "" {
		t.Error("expected empty label for unknown system")
	}
}
