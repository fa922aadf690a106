package procedure

import (
	"sort"
	"strings"

	"github.com/medanchor/medanchor/internal/platform/fhir"
)

// SNOMED CT codings for the supported interventional-radiology procedure
// types. Lookup is case-insensitive on the internal vocabulary string.
var snomedCodings = map[string]fhir.Coding{
	"embolisation":       {System: "http://snomed.info/sct", Code: "433144002", Display: "Embolization procedure"},
	"ponction":           {System: "http://snomed.info/sct", Code: "261190007", Display: "Percutaneous puncture"},
	"stent":              {System: "http://snomed.info/sct", Code: "384692006", Display: "Insertion of stent"},
	"angioplastie":       {System: "http://snomed.info/sct", Code: "372024009", Display: "Angioplasty"},
	"biopsie":            {System: "http://snomed.info/sct", Code: "387713003", Display: "Surgical biopsy"},
	"drainage":           {System: "http://snomed.info/sct", Code: "174250002", Display: "Drainage procedure"},
	"ablation":           {System: "http://snomed.info/sct", Code: "713295009", Display: "Ablation"},
	"radiofréquence":     {System: "http://snomed.info/sct", Code: "173666000", Display: "Radiofrequency ablation"},
	"cryothérapie":       {System: "http://snomed.info/sct", Code: "173665001", Display: "Cryotherapy"},
	"chimioembolisation": {System: "http://snomed.info/sct", Code: "430193006", Display: "Chemoembolization"},
}

// DefaultCoding is returned for procedure types outside the vocabulary, so a
// claim can always carry a syntactically valid coded concept even when stored
// data has drifted from the fixed type list.
var DefaultCoding = fhir.Coding{
	System:  "http://snomed.info/sct",
	Code:    "261190007",
	Display: "Percutaneous puncture",
}

// LookupCoding maps a procedure type to its SNOMED CT coding.
func LookupCoding(procedureType string) fhir.Coding {
	if c, ok := snomedCodings[strings.ToLower(procedureType)]; ok {
		return c
	}
	return DefaultCoding
}

// KnownType reports whether the procedure type belongs to the vocabulary.
func KnownType(procedureType string) bool {
	_, ok := snomedCodings[strings.ToLower(procedureType)]
	return ok
}

// Types returns the supported vocabulary, sorted.
func Types() []string {
	out := make([]string, 0, len(snomedCodings))
	for t := range snomedCodings {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
