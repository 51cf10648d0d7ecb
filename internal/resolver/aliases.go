package resolver

import "strings"

// canonicalTeams maps every accepted abbreviation, canonical or alternate,
// onto the canonical one used in game keys.
var canonicalTeams = map[string]string{
	"ARI": "ARI", "AZ": "ARI",
	"ATL": "ATL",
	"BAL": "BAL",
	"BOS": "BOS",
	"CHC": "CHC",
	"CWS": "CWS", "CHW": "CWS",
	"CIN": "CIN",
	"CLE": "CLE",
	"COL": "COL",
	"DET": "DET",
	"HOU": "HOU",
	"KC": "KC", "KCR": "KC",
	"LAA": "LAA", "ANA": "LAA",
	"LAD": "LAD",
	"MIA": "MIA",
	"MIL": "MIL",
	"MIN": "MIN",
	"NYM": "NYM",
	"NYY": "NYY",
	"ATH": "ATH", "OAK": "ATH",
	"PHI": "PHI",
	"PIT": "PIT",
	"SD": "SD", "SDP": "SD",
	"SEA": "SEA",
	"SF": "SF", "SFG": "SF",
	"STL": "STL",
	"TB": "TB", "TBR": "TB",
	"TEX": "TEX",
	"TOR": "TOR",
	"WSH": "WSH", "WAS": "WSH", "WSN": "WSH",
}

// teamAliases maps lower-cased full team names onto canonical abbreviations
var teamAliases = map[string]string{
	"arizona diamondbacks":  "ARI",
	"atlanta braves":        "ATL",
	"baltimore orioles":     "BAL",
	"boston red sox":        "BOS",
	"chicago cubs":          "CHC",
	"chicago white sox":     "CWS",
	"cincinnati reds":       "CIN",
	"cleveland guardians":   "CLE",
	"colorado rockies":      "COL",
	"detroit tigers":        "DET",
	"houston astros":        "HOU",
	"kansas city royals":    "KC",
	"los angeles angels":    "LAA",
	"los angeles dodgers":   "LAD",
	"miami marlins":         "MIA",
	"milwaukee brewers":     "MIL",
	"minnesota twins":       "MIN",
	"new york mets":         "NYM",
	"new york yankees":      "NYY",
	"athletics":             "ATH",
	"oakland athletics":     "ATH",
	"sacramento athletics":  "ATH",
	"philadelphia phillies": "PHI",
	"pittsburgh pirates":    "PIT",
	"san diego padres":      "SD",
	"seattle mariners":      "SEA",
	"san francisco giants":  "SF",
	"st. louis cardinals":   "STL",
	"st louis cardinals":    "STL",
	"tampa bay rays":        "TB",
	"texas rangers":         "TEX",
	"toronto blue jays":     "TOR",
	"washington nationals":  "WSH",
}

// teamNicknames is the loose table for the fuzzy pass: a token that pins the
// team regardless of how the source writes the city.
var teamNicknames = map[string]string{
	"diamondbacks": "ARI", "dbacks": "ARI",
	"braves":    "ATL",
	"orioles":   "BAL",
	"red sox":   "BOS",
	"cubs":      "CHC",
	"white sox": "CWS",
	"reds":      "CIN",
	"guardians": "CLE",
	"rockies":   "COL",
	"tigers":    "DET",
	"astros":    "HOU",
	"royals":    "KC",
	"angels":    "LAA",
	"dodgers":   "LAD",
	"marlins":   "MIA",
	"brewers":   "MIL",
	"twins":     "MIN",
	"mets":      "NYM",
	"yankees":   "NYY",
	"athletics": "ATH",
	"phillies":  "PHI",
	"pirates":   "PIT",
	"padres":    "SD",
	"mariners":  "SEA",
	"giants":    "SF",
	"cardinals": "STL",
	"rays":      "TB",
	"rangers":   "TEX",
	"blue jays": "TOR",
	"nationals": "WSH",
}

// TeamAbbreviation normalizes a team label onto its canonical abbreviation:
// accepted abbreviations first, then exact full-name aliases.
func TeamAbbreviation(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}

	if abbr, ok := canonicalTeams[strings.ToUpper(trimmed)]; ok {
		return abbr, true
	}
	if abbr, ok := teamAliases[strings.ToLower(trimmed)]; ok {
		return abbr, true
	}
	return "", false
}

// FuzzyTeamAbbreviation resolves a team label by nickname token. It requires
// the match to be unambiguous: labels pinning more than one team fail.
func FuzzyTeamAbbreviation(name string) (string, bool) {
	folded := foldTeamLabel(name)
	if folded == "" {
		return "", false
	}

	if abbr, ok := teamAliases[folded]; ok {
		return abbr, true
	}

	padded := " " + folded + " "
	matched := ""
	for nick, abbr := range teamNicknames {
		if !strings.Contains(padded, " "+nick+" ") {
			continue
		}
		if matched != "" && matched != abbr {
			return "", false
		}
		matched = abbr
	}
	return matched, matched != ""
}

// foldTeamLabel lowercases, drops punctuation and collapses whitespace, so
// "St. Louis" folds to "st louis" and "D-backs" to "dbacks".
func foldTeamLabel(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			lastSpace = false
		case (r == ' ' || r == '\t') && !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
