package parser

import (
	"regexp"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

var attackAreasPattern = regexp.MustCompile(`(\d+)%\D+(\d+)%\D+(\d+)%`)

// parseHeatmap reads the left/center/right attack split. Without three
// percentages in a row there is nothing to show and the screen needs review.
func parseHeatmap(rawText string) (models.Fields, bool) {
	var fields models.HeatmapFields
	m := attackAreasPattern.FindStringSubmatch(rawText)
	if m == nil {
		return fields, true
	}
	fields.AttackAreas = &models.AttackAreas{
		Left:   num(m[1]),
		Center: num(m[2]),
		Right:  num(m[3]),
	}
	return fields, false
}

// parseOpponent returns an empty scouting sheet. Formation markers are placed
// by the client, not read from the screenshot.
func parseOpponent(string) (models.Fields, bool) {
	return models.OpponentFields{}, false
}
