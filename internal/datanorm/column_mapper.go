package datanorm

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// lowConfidence is the threshold below which a heuristic prediction is
	// worth refining with the inference client.
	lowConfidence = 0.7

	unmatchedConfidence = 0.6
)

// mappingRule maps a normalized header onto a field when it contains one of
// keywords or equals one of exact. Rules are tried in order; first match wins.
type mappingRule struct {
	field      Field
	keywords   []string
	exact      []string
	exclude    []string
	confidence float64
}

var mappingRules = []mappingRule{
	{field: FieldContactType, keywords: []string{"contacttype", "typedecontact", "kontaktart"}, confidence: 0.9},
	{field: FieldEmail, keywords: []string{"email", "mail", "courriel"}, confidence: 0.9},
	{field: FieldFirstName, keywords: []string{"firstname", "givenname", "prenom", "vorname"}, confidence: 0.8},
	{field: FieldLastName, keywords: []string{"lastname", "surname", "familyname", "nomdefamille", "nachname"}, confidence: 0.8},
	{field: FieldCompanyName, keywords: []string{"company", "organization", "organisation", "entreprise", "societe", "firma", "unternehmen"}, confidence: 0.8},
	{field: FieldPhone, keywords: []string{"phone", "tel", "mobile"}, confidence: 0.8},
	{field: FieldFullName, keywords: []string{"name", "nom"}, exclude: []string{"company"}, confidence: 0.8},
	{field: FieldPosition, keywords: []string{"position", "title", "job", "poste", "fonction"}, confidence: 0.7},
	{field: FieldZipCode, keywords: []string{"zip", "postal", "postcode", "plz", "codepostal"}, confidence: 0.8},
	{field: FieldCity, keywords: []string{"city", "town", "ville", "stadt"}, exact: []string{"ort"}, confidence: 0.8},
	{field: FieldState, keywords: []string{"state", "province", "region", "bundesland"}, confidence: 0.7},
	{field: FieldCountry, keywords: []string{"country", "pays"}, exact: []string{"land"}, confidence: 0.8},
	{field: FieldAddress, keywords: []string{"street", "strasse", "straße"}, exact: []string{"rue"}, confidence: 0.7},
	{field: FieldFullAddress, keywords: []string{"address", "location", "adresse", "anschrift"}, confidence: 0.7},
	{field: FieldNotes, keywords: []string{"note", "comment", "remarque", "bemerkung"}, confidence: 0.7},
	{field: FieldContactType, keywords: []string{"type", "category"}, confidence: 0.6},
}

func (r mappingRule) match(header string) (string, bool) {
	for _, ex := range r.exclude {
		if strings.Contains(header, ex) {
			return "", false
		}
	}
	for _, e := range r.exact {
		if header == e {
			return e, true
		}
	}
	for _, kw := range r.keywords {
		if strings.Contains(header, kw) {
			return kw, true
		}
	}
	return "", false
}

// foldDiacritics removes combining marks so "Prénom" and "Prenom" compare equal.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeHeader lowercases a header, removes "*" and all whitespace and
// folds diacritics.
func normalizeHeader(h string) string {
	h = foldDiacritics(strings.ToLower(h))
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range h {
		if r == '*' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HeuristicPredictions proposes a field for every header using the ordered
// keyword rules. The output depends only on headers.
func HeuristicPredictions(headers []string) []Prediction {
	out := make([]Prediction, 0, len(headers))
	for _, h := range headers {
		out = append(out, heuristicPrediction(h))
	}
	return out
}

func heuristicPrediction(header string) Prediction {
	normalized := normalizeHeader(header)
	for _, rule := range mappingRules {
		if kw, ok := rule.match(normalized); ok {
			return Prediction{
				SourceColumn: header,
				TargetField:  fieldPtr(rule.field),
				Confidence:   rule.confidence,
				Reasoning:    fmt.Sprintf("header matches %q", kw),
			}
		}
	}
	return Prediction{
		SourceColumn: header,
		Confidence:   unmatchedConfidence,
		Reasoning:    "no keyword match",
	}
}

func needsRefinement(preds []Prediction) bool {
	for _, p := range preds {
		if p.Confidence < lowConfidence {
			return true
		}
	}
	return false
}
