package datanorm

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"
)

const (
	promptSampleRows = 2

	systemPrompt = "You map spreadsheet columns onto CRM contact fields. Always respond with a single valid JSON object."
)

const promptSource = `The spreadsheet headers below are most likely written in {{ language_name }}.
Map every header to one of the target contact fields, or to null when no field fits.

TARGET FIELDS:
{% for f in fields %}- {{ f.key }}: {{ f.description }}
{% endfor %}
HEADERS:
{% for h in headers %}- {{ h }}
{% endfor %}{% if has_samples %}
SAMPLE ROWS:
{% for row in samples %}{{ forloop.index }}. {{ row }}
{% endfor %}{% endif %}
Rules:
- fullName and companyName are the identifying fields; prefer them for name-like columns.
- Use each target field at most once unless the header clearly splits it.
- confidence is a number between 0 and 1.

RESPONSE FORMAT:
{"predictions":[{"sourceColumn":"<header>","targetField":"<field or null>","confidence":0.9,"reasoning":"<short reason>"}],"language":"{{ language }}","confidence":0.9}`

var languageNames = map[Language]string{
	LangEnglish: "English",
	LangFrench:  "French",
	LangGerman:  "German",
}

// glossaries describe each target field with the words a header in that
// language is likely to use.
var glossaries = map[Language]map[Field]string{
	LangEnglish: {
		FieldFullName:    "full name of a person (Name, Full Name, Contact)",
		FieldFirstName:   "given name (First Name, Given Name)",
		FieldLastName:    "family name (Last Name, Surname)",
		FieldCompanyName: "organization name (Company, Organization, Account)",
		FieldEmail:       "email address (Email, E-mail, Mail)",
		FieldPhone:       "phone number (Phone, Tel, Mobile, Cell)",
		FieldContactType: "individual or company (Type, Contact Type, Category)",
		FieldPosition:    "job title (Position, Title, Role, Job)",
		FieldFullAddress: "complete postal address in one cell (Address, Location)",
		FieldAddress:     "street line only (Street, Address Line 1)",
		FieldCity:        "city (City, Town)",
		FieldState:       "state or region (State, Province, Region)",
		FieldZipCode:     "postal code (Zip, Postal Code, Postcode)",
		FieldCountry:     "country (Country)",
		FieldNotes:       "free text (Notes, Comments, Remarks)",
	},
	LangFrench: {
		FieldFullName:    "nom complet d'une personne (Nom, Nom complet, Contact)",
		FieldFirstName:   "prénom (Prénom)",
		FieldLastName:    "nom de famille (Nom de famille)",
		FieldCompanyName: "nom de l'organisation (Entreprise, Société, Raison sociale)",
		FieldEmail:       "adresse e-mail (E-mail, Courriel, Adresse électronique)",
		FieldPhone:       "numéro de téléphone (Téléphone, Tél, Portable, Mobile)",
		FieldContactType: "particulier ou entreprise (Type, Type de contact)",
		FieldPosition:    "poste occupé (Poste, Fonction, Titre)",
		FieldFullAddress: "adresse postale complète (Adresse)",
		FieldAddress:     "rue uniquement (Rue, Voie)",
		FieldCity:        "ville (Ville, Commune)",
		FieldState:       "région ou département (Région, Département)",
		FieldZipCode:     "code postal (Code postal, CP)",
		FieldCountry:     "pays (Pays)",
		FieldNotes:       "texte libre (Remarques, Commentaires, Notes)",
	},
	LangGerman: {
		FieldFullName:    "vollständiger Name einer Person (Name, Vollständiger Name, Kontakt)",
		FieldFirstName:   "Vorname (Vorname)",
		FieldLastName:    "Familienname (Nachname, Familienname)",
		FieldCompanyName: "Name der Organisation (Firma, Unternehmen, Organisation)",
		FieldEmail:       "E-Mail-Adresse (E-Mail, Mail)",
		FieldPhone:       "Telefonnummer (Telefon, Tel., Handy, Mobil)",
		FieldContactType: "Person oder Firma (Typ, Kontaktart)",
		FieldPosition:    "Berufsbezeichnung (Position, Titel, Funktion)",
		FieldFullAddress: "vollständige Postanschrift (Adresse, Anschrift)",
		FieldAddress:     "nur Straße (Straße, Strasse)",
		FieldCity:        "Ort (Stadt, Ort)",
		FieldState:       "Bundesland oder Region (Bundesland, Region)",
		FieldZipCode:     "Postleitzahl (PLZ, Postleitzahl)",
		FieldCountry:     "Land (Land)",
		FieldNotes:       "Freitext (Bemerkung, Notizen, Kommentar)",
	},
}

var promptTemplate = mustParsePrompt()

func mustParsePrompt() *liquid.Template {
	tpl, err := liquid.NewEngine().ParseString(promptSource)
	if err != nil {
		panic(fmt.Sprintf("datanorm: parse prompt template: %v", err))
	}
	return tpl
}

// buildPrompt renders the user message for the inference call.
func buildPrompt(lang Language, headers []string, samples []map[string]string) (string, error) {
	glossary, ok := glossaries[lang]
	if !ok {
		lang, glossary = LangEnglish, glossaries[LangEnglish]
	}

	fields := make([]map[string]interface{}, 0, len(Fields))
	for _, f := range Fields {
		fields = append(fields, map[string]interface{}{"key": string(f), "description": glossary[f]})
	}

	rows := make([]string, 0, promptSampleRows)
	for i, row := range samples {
		if i == promptSampleRows {
			break
		}
		cells := make([]string, 0, len(headers))
		for _, h := range headers {
			if v := strings.TrimSpace(row[h]); v != "" {
				cells = append(cells, fmt.Sprintf("%s: %s", h, v))
			}
		}
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, " | "))
		}
	}

	out, err := promptTemplate.RenderString(map[string]interface{}{
		"language":      string(lang),
		"language_name": languageNames[lang],
		"fields":        fields,
		"headers":       headers,
		"samples":       rows,
		"has_samples":   len(rows) > 0,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}
