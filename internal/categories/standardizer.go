package categories

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Standardizer maps free-text Spanish categories onto a fixed English
// vocabulary. Lookups are case-insensitive, whitespace-normalized and accent
// folded. Strings that match no known variant go through a keyword scan;
// what remains is checked against a person-name pattern and preserved as-is
// when it looks like a host or contact name.
//
// The name heuristic is tunable, not guaranteed-correct: a keyword-free
// capitalized phrase (a town name used as a category, say) is deliberately
// preserved rather than translated, matching how the source site mixes
// place and person tags into its category lists.
type Standardizer struct {
	variants map[string]string
	keywords []keywordRule
}

type keywordRule struct {
	words     []string
	canonical string
}

// translationTable maps normalized variant spellings to one canonical
// English term per category.
var translationTable = map[string]string{
	"a.a.c.s.":                       "AACS",
	"albergues de peregrinos":        "Pilgrim hostels",
	"albergue de peregrinos":         "Pilgrim hostels",
	"ayuntamientos y concejos":       "Town Halls and Councils",
	"bares y restaurantes":           "Bars and restaurants",
	"cafe bar meson":                 "Bar/Café",
	"colegios y universidades":       "Colleges and Universities",
	"catedrales":                     "Cathedrals",
	"conventos":                      "Convents",
	"empresas y companias":           "Companies and businesses",
	"hosteleria":                     "Hospitality",
	"iglesias de santiago":           "Churches of Santiago",
	"iglesias y parroquias":          "Churches and parishes",
	"locales comerciales":            "Commercial premises",
	"monasterios":                    "Monasteries",
	"museos":                         "Museums",
	"oficinas de turismo":            "Tourist Offices",
	"personajes del camino":          "Characters of the Camino",
	"policia y cuerpos de seguridad": "Police and security forces",
}

// keywordRules resolve unmatched strings that still contain a recognizable
// category word, tried in order.
var keywordRules = []keywordRule{
	{words: []string{"cafe", "bar", "meson", "cafeteria"}, canonical: "Bar/Café"},
	{words: []string{"restaurante"}, canonical: "Bars and restaurants"},
	{words: []string{"albergue", "refugio"}, canonical: "Pilgrim hostels"},
	{words: []string{"hotel", "hostal", "pension"}, canonical: "Hotels"},
	{words: []string{"catedral"}, canonical: "Cathedrals"},
	{words: []string{"iglesia", "parroquia", "ermita", "basilica"}, canonical: "Churches and parishes"},
	{words: []string{"monasterio"}, canonical: "Monasteries"},
	{words: []string{"convento"}, canonical: "Convents"},
	{words: []string{"museo"}, canonical: "Museums"},
	{words: []string{"ayuntamiento", "concejo"}, canonical: "Town Halls and Councils"},
	{words: []string{"turismo"}, canonical: "Tourist Offices"},
	{words: []string{"tienda", "comercio", "libreria", "farmacia"}, canonical: "Commercial premises"},
}

// NewStandardizer builds the Standardizer with the static vocabulary.
func NewStandardizer() *Standardizer {
	return &Standardizer{
		variants: translationTable,
		keywords: keywordRules,
	}
}

// Standardize maps each raw category through the vocabulary. Unrecognized
// strings pass through unchanged.
func (s *Standardizer) Standardize(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, cat := range raw {
		out = append(out, s.standardizeOne(cat))
	}
	return out
}

func (s *Standardizer) standardizeOne(cat string) string {
	key := normalizeKey(cat)
	if canonical, ok := s.variants[key]; ok {
		return canonical
	}
	for _, rule := range s.keywords {
		for _, w := range rule.words {
			if containsWord(key, w) {
				return rule.canonical
			}
		}
	}
	// Keyword-free capitalized phrases are host/contact names or place
	// tags; keep them untouched.
	return cat
}

// LooksLikePersonName reports whether cat matches the person-name pattern:
// two to four capitalized words with no category keyword among them.
func (s *Standardizer) LooksLikePersonName(cat string) bool {
	words := strings.Fields(cat)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	key := normalizeKey(cat)
	for _, rule := range s.keywords {
		for _, w := range rule.words {
			if containsWord(key, w) {
				return false
			}
		}
	}
	for _, w := range words {
		if isNameParticle(w) {
			continue
		}
		r := []rune(w)
		if !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}

func isNameParticle(w string) bool {
	switch strings.ToLower(w) {
	case "de", "del", "la", "el", "los", "las", "y":
		return true
	}
	return false
}

func containsWord(haystack, word string) bool {
	for _, field := range strings.Fields(haystack) {
		if field == word {
			return true
		}
	}
	return false
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeKey lowercases, folds accents and collapses whitespace.
func normalizeKey(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
