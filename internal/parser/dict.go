package parser

import (
	"sort"
	"strings"
)

// roleAliases maps the role abbreviations printed by the game, in either the
// Italian or the English locale, to the canonical Italian role code.
var roleAliases = map[string]string{
	"PT": "PT", "GK": "PT",
	"DC": "DC", "CB": "DC",
	"MED": "MED", "DMF": "MED",
	"CC": "CC", "CMF": "CC",
	"TRQ": "TRQ", "AMF": "TRQ",
	"SP": "SP", "CF": "SP",
	"CLD": "CLD", "RWF": "CLD",
	"CLS": "CLS", "LWF": "CLS",
	"TD": "TD", "RB": "TD",
	"TS": "TS", "LB": "TS",
}

// NormalizeRole returns the canonical role code for raw. Unknown codes pass
// through unchanged.
func NormalizeRole(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if canonical, ok := roleAliases[key]; ok {
		return canonical
	}
	return raw
}

// statLabel is one on-screen label of a match statistic.
type statLabel struct {
	text string
	key  string
}

// statLabels lists every label the match statistics screen may show, with its
// stored key. Several labels may share a key.
var statLabels = []statLabel{
	{"Possesso di palla", "poss"},
	{"Possesso palla", "poss"},
	{"Tiri totali", "tiri"},
	{"Tiri", "tiri"},
	{"Tiri in porta", "tiriporta"},
	{"Passaggi", "passaggi"},
	{"Passaggi riusciti", "passaggiRiusciti"},
	{"Calci d'angolo", "corner"},
	{"Corner", "corner"},
	{"Falli", "falli"},
	{"Contrasti", "contrasti"},
	{"Parate", "parate"},
}

var (
	buildTerms = byLengthDesc([]string{
		"Finalizzatore", "Regista", "Box-to-Box", "Marcatore", "Trequartista",
		"Regista creativo", "Ala prolifica", "Collante", "Incontrista",
	})
	boosterTerms = []string{
		"Difesa +2", "Tiro +2", "Velocità +2", "Passaggio +2", "Fisico +2",
	}
	skillTerms = []string{
		"Intercettazione", "Lancio lungo", "Passaggio filtrante", "Tiro a giro",
		"Muro", "Colpo di testa", "Rovesciata", "Scatto", "Dribbling",
	}
	aiStyleTerms = []string{
		"Funambolo", "Serpentina", "Treno in corsa", "Inserimento",
		"Esperto palle lunghe", "Crossatore", "Tiratore",
	}
)

// byLengthDesc orders terms so the most specific one is tried first.
func byLengthDesc(terms []string) []string {
	out := append([]string(nil), terms...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// findTerms returns the dictionary terms contained in line, in dictionary order.
// Matching ignores case.
func findTerms(line string, terms []string) []string {
	lower := strings.ToLower(line)
	var found []string
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
		}
	}
	return found
}
