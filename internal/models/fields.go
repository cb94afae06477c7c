package models

import "encoding/json"

// Fields is implemented by every type-specific structured field shape.
type Fields interface {
	DocumentType() DocumentType
}

// RosterFields describes a squad screen.
type RosterFields struct {
	Formation     string       `json:"formation,omitempty"`
	Coach         string       `json:"coach,omitempty"`
	TeamName      string       `json:"teamName,omitempty"`
	TotalStrength *float64     `json:"forzaTotale"`
	Players       []PlayerLine `json:"players"`
}

type PlayerLine struct {
	Name    string   `json:"name"`
	Role    string   `json:"role,omitempty"`
	Overall *float64 `json:"ovr"`
	Club    string   `json:"club,omitempty"`
	Build   string   `json:"build,omitempty"`
	Booster []string `json:"booster,omitempty"`
	Skills  []string `json:"skills,omitempty"`
	AIStyle []string `json:"stiliIA,omitempty"`
}

func (RosterFields) DocumentType() DocumentType { return TypeRoster }

// Pair holds our value and the opponent's value for one match statistic.
type Pair struct {
	Ours *float64 `json:"us"`
	Oppo *float64 `json:"oppo"`
}

// Extracted reports whether at least one side was read from the screen.
func (p Pair) Extracted() bool { return p.Ours != nil || p.Oppo != nil }

// Complete reports whether both sides were read.
func (p Pair) Complete() bool { return p.Ours != nil && p.Oppo != nil }

// MatchStatsFields describes an end-of-match statistics screen. Statistic pairs
// that were not found at all are omitted; Result is always present.
type MatchStatsFields struct {
	TeamUser        string `json:"teamUser,omitempty"`
	TeamOppo        string `json:"teamOppo,omitempty"`
	Result          Pair   `json:"result"`
	Possession      *Pair  `json:"poss,omitempty"`
	Shots           *Pair  `json:"tiri,omitempty"`
	ShotsOnTarget   *Pair  `json:"tiriporta,omitempty"`
	Passes          *Pair  `json:"passaggi,omitempty"`
	CompletedPasses *Pair  `json:"passaggiRiusciti,omitempty"`
	Corners         *Pair  `json:"corner,omitempty"`
	Fouls           *Pair  `json:"falli,omitempty"`
	Tackles         *Pair  `json:"contrasti,omitempty"`
	Saves           *Pair  `json:"parate,omitempty"`
}

func (MatchStatsFields) DocumentType() DocumentType { return TypeMatchStats }

// Pairs returns every statistic pair including the result, keyed by stored name.
func (f MatchStatsFields) Pairs() map[string]Pair {
	out := map[string]Pair{"result": f.Result}
	for key, p := range map[string]*Pair{
		"poss":             f.Possession,
		"tiri":             f.Shots,
		"tiriporta":        f.ShotsOnTarget,
		"passaggi":         f.Passes,
		"passaggiRiusciti": f.CompletedPasses,
		"corner":           f.Corners,
		"falli":            f.Fouls,
		"contrasti":        f.Tackles,
		"parate":           f.Saves,
	} {
		if p != nil {
			out[key] = *p
		}
	}
	return out
}

type VotesFields struct {
	Votes []Vote `json:"votes"`
}

type Vote struct {
	Name string  `json:"name"`
	Vote float64 `json:"vote"`
	Note string  `json:"note,omitempty"`
}

func (VotesFields) DocumentType() DocumentType { return TypeVotes }

type HeatmapFields struct {
	AttackAreas *AttackAreas `json:"attackAreas,omitempty"`
	Recoveries  [][2]float64 `json:"recoveries,omitempty"`
}

// AttackAreas is the left/center/right split of attacking play, in percent.
type AttackAreas struct {
	Left   *float64 `json:"left"`
	Center *float64 `json:"center"`
	Right  *float64 `json:"right"`
}

func (HeatmapFields) DocumentType() DocumentType { return TypeHeatmap }

type OpponentFields struct {
	Image   string   `json:"image"`
	Markers []Marker `json:"markers,omitempty"`
	Notes   string   `json:"notes"`
}

// Marker is a player position on the pitch, normalised to [0,1].
type Marker struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	RoleGuess string  `json:"roleGuess,omitempty"`
}

func (OpponentFields) DocumentType() DocumentType { return TypeOpponentFormation }

// FieldsToMap flattens a typed field shape into the generic map stored on the
// record, so enrichment output can be merged over it key by key.
func FieldsToMap(f Fields) (map[string]any, error) {
	out := map[string]any{}
	if f == nil {
		return out, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Float returns a pointer to v. Used for nullable numeric fields.
func Float(v float64) *float64 { return &v }
