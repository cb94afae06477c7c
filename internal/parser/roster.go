package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

var (
	playerLinePattern = regexp.MustCompile("([A-Za-zÀ-ÿ'`. -]{3,})\\s+(\\d{2,3})\\s+([A-Z]{2,3})")
	formationPattern  = regexp.MustCompile(`\b(\d-\d-\d(?:-\d)?)\b`)
	coachPattern      = regexp.MustCompile(`(?i)\b(?:allenatore|coach)\s*:?\s*([^\n]+)`)
	strengthPattern   = regexp.MustCompile(`(?i)\b(?:forza totale|team strength)\D{0,10}(\d+(?:[.,]\d+)?)`)
	teamNamePattern   = regexp.MustCompile(`(?im)^\s*(?:squadra|team)\s*:\s*([^\n]+)`)
)

// parseRoster reads one player per line. Review is needed when no player line
// was recognised.
func parseRoster(rawText string) (models.Fields, bool) {
	fields := models.RosterFields{Players: []models.PlayerLine{}}

	if m := formationPattern.FindStringSubmatch(rawText); m != nil {
		fields.Formation = m[1]
	}
	if m := coachPattern.FindStringSubmatch(rawText); m != nil {
		fields.Coach = strings.TrimSpace(m[1])
	}
	if m := strengthPattern.FindStringSubmatch(rawText); m != nil {
		fields.TotalStrength = num(m[1])
	}
	if m := teamNamePattern.FindStringSubmatch(rawText); m != nil {
		fields.TeamName = strings.TrimSpace(m[1])
	}

	for _, line := range strings.Split(rawText, "\n") {
		m := playerLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		player := models.PlayerLine{
			Name: strings.TrimSpace(m[1]),
			Role: NormalizeRole(m[3]),
		}
		if ovr, err := strconv.ParseFloat(m[2], 64); err == nil {
			player.Overall = &ovr
		}
		if builds := findTerms(line, buildTerms); len(builds) > 0 {
			player.Build = builds[0]
		}
		player.Booster = findTerms(line, boosterTerms)
		player.Skills = findTerms(line, skillTerms)
		player.AIStyle = findTerms(line, aiStyleTerms)
		fields.Players = append(fields.Players, player)
	}

	return fields, len(fields.Players) == 0
}
