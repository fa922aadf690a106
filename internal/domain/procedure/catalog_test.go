package procedure

import "testing"

func TestLookupCoding(t *testing.T) {
	tests := []struct {
		procedureType string
		wantCode      string
		wantDisplay   string
	}{
		{"stent", "384692006", "Insertion of stent"},
		{"embolisation", "433144002", "Embolization procedure"},
		{"chimioembolisation", "430193006", "Chemoembolization"},
		{"STENT", "384692006", "Insertion of stent"},
		{"Ponction", "261190007", "Percutaneous puncture"},
	}

	for _, tt := range tests {
		c := LookupCoding(tt.procedureType)
		if c.Code != tt.wantCode || c.Display != tt.wantDisplay {
			t.Errorf("LookupCoding(%q) = {%s %s}, want {%s %s}",
				tt.procedureType, c.Code, c.Display, tt.wantCode, tt.wantDisplay)
		}
		if c.System != "http://snomed.info/sct" {
			t.Errorf("LookupCoding(%q) system = %s", tt.procedureType, c.System)
		}
	}
}

func TestLookupCoding_UnknownFallsBackToDefault(t *testing.T) {
	c := LookupCoding("trepanation")
	if c != DefaultCoding {
		t.Errorf("LookupCoding(unknown) = %+v, want default %+v", c, DefaultCoding)
	}
}

func TestKnownType(t *testing.T) {
	if !KnownType("biopsie") || !KnownType("BIOPSIE") {
		t.Error("biopsie should be a known type regardless of case")
	}
	if KnownType("trepanation") {
		t.Error("trepanation should not be a known type")
	}
}

func TestTypes(t *testing.T) {
	types := Types()
	if len(types) != 10 {
		t.Fatalf("expected 10 procedure types, got %d", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
}
