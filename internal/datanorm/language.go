package datanorm

import (
	"strings"

	"golang.org/x/text/language"
)

const languageSampleRows = 3

// vocabularies are matched as substrings of the folded, lowercased text.
// English wins any tie.
var vocabularies = []struct {
	lang  Language
	words []string
}{
	{LangFrench, []string{"prenom", "nom", "entreprise", "societe", "courriel", "telephone", "adresse", "ville", "pays", "code postal", "poste", "fonction", "remarque", "rue"}},
	{LangGerman, []string{"vorname", "nachname", "firma", "unternehmen", "telefon", "strasse", "straße", "stadt", "anschrift", "plz", "bemerkung", "kontakt", "land"}},
	{LangEnglish, []string{"name", "first", "last", "company", "email", "phone", "address", "city", "country", "street", "title", "zip", "notes"}},
}

// DetectLanguage guesses the language of a file from its headers and up to
// three sample rows. Ties and empty input resolve to English.
func DetectLanguage(headers []string, sampleRows []map[string]string) Language {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h)
		b.WriteByte(' ')
	}
	for i, row := range sampleRows {
		if i == languageSampleRows {
			break
		}
		for _, h := range headers {
			b.WriteString(row[h])
			b.WriteByte(' ')
		}
	}
	text := foldDiacritics(strings.ToLower(b.String()))

	best, bestHits := LangEnglish, 0
	hits := make(map[Language]int, len(vocabularies))
	for _, v := range vocabularies {
		for _, w := range v.words {
			hits[v.lang] += strings.Count(text, w)
		}
	}
	for _, v := range vocabularies {
		if hits[v.lang] > bestHits {
			best, bestHits = v.lang, hits[v.lang]
		}
	}
	if hits[LangEnglish] == bestHits {
		return LangEnglish
	}
	return best
}

// ParseLanguageHint accepts a BCP 47 tag such as "fr" or "de-CH" and reports
// the supported language it names.
func ParseLanguageHint(hint string) (Language, bool) {
	if strings.TrimSpace(hint) == "" {
		return "", false
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	switch Language(base.String()) {
	case LangEnglish:
		return LangEnglish, true
	case LangFrench:
		return LangFrench, true
	case LangGerman:
		return LangGerman, true
	}
	return "", false
}
