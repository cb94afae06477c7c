package parser

import (
	"regexp"
	"strings"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

var (
	// statValuesPattern is applied right after a label: two numbers within a
	// short window, either of which may carry a percent sign.
	statValuesPattern = regexp.MustCompile(`^\D{0,24}?(\d+(?:[.,]\d+)?%?)\D{1,24}?(\d+(?:[.,]\d+)?%?)`)
	resultPattern     = regexp.MustCompile(`(\d+)\s*[–-]\s*(\d+)`)
	teamLinePattern   = regexp.MustCompile(`^(.+?)\s+[–-]\s+(.+?)\s+\d`)
	statLabelPatterns = compileLabelPatterns()
)

func compileLabelPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(statLabels))
	for _, l := range statLabels {
		out[l.text] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(l.text))
	}
	return out
}

// parseMatchStats extracts every known statistic pair, the final result and the
// team names. Review is needed when a pair was found with one side missing.
func parseMatchStats(rawText string) (models.Fields, bool) {
	var fields models.MatchStatsFields

	found := map[string]models.Pair{}
	for _, label := range statLabels {
		if _, done := found[label.key]; done {
			continue
		}
		if pair, ok := findStatPair(rawText, label); ok {
			found[label.key] = pair
		}
	}
	assignPairs(&fields, found)

	if m := resultPattern.FindStringSubmatch(rawText); m != nil {
		fields.Result = models.Pair{Ours: num(m[1]), Oppo: num(m[2])}
	}

	firstLine, _, _ := strings.Cut(rawText, "\n")
	if m := teamLinePattern.FindStringSubmatch(firstLine); m != nil {
		fields.TeamUser = strings.TrimSpace(m[1])
		fields.TeamOppo = strings.TrimSpace(m[2])
	}

	needsReview := false
	for _, p := range fields.Pairs() {
		if p.Extracted() && !p.Complete() {
			needsReview = true
		}
	}
	return fields, needsReview
}

// findStatPair looks for the first occurrence of label that is not the start of
// a longer label, and reads the two values following it.
func findStatPair(rawText string, label statLabel) (models.Pair, bool) {
	for _, loc := range statLabelPatterns[label.text].FindAllStringIndex(rawText, -1) {
		if shadowed(rawText, loc[0], label) {
			continue
		}
		m := statValuesPattern.FindStringSubmatch(rawText[loc[1]:])
		if m == nil {
			continue
		}
		if strings.Contains(m[1]+m[2], "%") {
			return models.Pair{Ours: percent(m[1]), Oppo: percent(m[2])}, true
		}
		return models.Pair{Ours: num(m[1]), Oppo: num(m[2])}, true
	}
	return models.Pair{}, false
}

// shadowed reports whether a longer label of another statistic starts at pos.
func shadowed(rawText string, pos int, label statLabel) bool {
	rest := rawText[pos:]
	for _, other := range statLabels {
		if other.key == label.key || len(other.text) <= len(label.text) {
			continue
		}
		if len(rest) >= len(other.text) && strings.EqualFold(rest[:len(other.text)], other.text) {
			return true
		}
	}
	return false
}

func assignPairs(fields *models.MatchStatsFields, found map[string]models.Pair) {
	targets := map[string]**models.Pair{
		"poss":             &fields.Possession,
		"tiri":             &fields.Shots,
		"tiriporta":        &fields.ShotsOnTarget,
		"passaggi":         &fields.Passes,
		"passaggiRiusciti": &fields.CompletedPasses,
		"corner":           &fields.Corners,
		"falli":            &fields.Fouls,
		"contrasti":        &fields.Tackles,
		"parate":           &fields.Saves,
	}
	for key, pair := range found {
		if target, ok := targets[key]; ok {
			p := pair
			*target = &p
		}
	}
}
