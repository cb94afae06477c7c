package parser

import (
	"regexp"
	"strings"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// votePattern is a name-like run followed by a grade with exactly one decimal.
var votePattern = regexp.MustCompile("([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ'’`.\\- ]{2,})\\s+(\\d{1,2}[.,]\\d)\\b")

// parseVotes returns every (name, grade) pair in order of appearance. Repeated
// names are kept as separate entries.
func parseVotes(rawText string) (models.Fields, bool) {
	fields := models.VotesFields{Votes: []models.Vote{}}
	for _, m := range votePattern.FindAllStringSubmatch(rawText, -1) {
		grade := num(m[2])
		if grade == nil {
			continue
		}
		fields.Votes = append(fields.Votes, models.Vote{
			Name: strings.TrimSpace(m[1]),
			Vote: *grade,
		})
	}
	return fields, len(fields.Votes) == 0
}
