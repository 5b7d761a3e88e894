package types

import "math"

type VegetarianLevel string

const (
	LevelUnset       VegetarianLevel = ""
	LevelVegan       VegetarianLevel = "vegan"
	LevelLacto       VegetarianLevel = "lacto"
	LevelOvo         VegetarianLevel = "ovo"
	LevelLactoOvo    VegetarianLevel = "lacto-ovo"
	LevelPesco       VegetarianLevel = "pesco"
	LevelPollo       VegetarianLevel = "pollo"
	LevelFlexitarian VegetarianLevel = "flexitarian"
)

// Levels in strictness order.
var Levels = []VegetarianLevel{LevelVegan, LevelLacto, LevelOvo, LevelLactoOvo, LevelPesco, LevelPollo, LevelFlexitarian}

type levelInfo struct {
	label       string
	fullName    string
	emoji       string
	description string
}

var levelInfos = map[VegetarianLevel]levelInfo{
	LevelVegan:       {"비건", "비건", "🥬", "동물성 식품 없음"},
	LevelLacto:       {"락토", "락토 베지테리언", "🥛", "유제품 가능"},
	LevelOvo:         {"오보", "오보 베지테리언", "🥚", "달걀 가능"},
	LevelLactoOvo:    {"락토 오보", "락토 오보 베지테리언", "🥛🥚", "유제품, 달걀 가능"},
	LevelPesco:       {"페스코", "페스코 베지테리언", "🐟", "유제품, 달걀, 생선 가능"},
	LevelPollo:       {"폴로", "폴로 베지테리언", "🍗", "유제품, 달걀, 생선, 닭고기 가능"},
	LevelFlexitarian: {"플렉시테리언", "플렉시테리언", "🍽️", "모든 음식 가능 (간헐적 채식)"},
}

// ParseLevel returns LevelUnset for anything outside the taxonomy, including "others".
func ParseLevel(raw string) VegetarianLevel {
	l := VegetarianLevel(raw)
	if _, ok := levelInfos[l]; ok {
		return l
	}
	return LevelUnset
}

func (l VegetarianLevel) Valid() bool {
	_, ok := levelInfos[l]
	return ok
}

func (l VegetarianLevel) Label() string {
	if l == LevelUnset {
		return "아직 분석되지 않음"
	}
	return levelInfos[l].label
}

func (l VegetarianLevel) Display() string {
	if l == LevelUnset {
		return l.Label()
	}
	info := levelInfos[l]
	return info.emoji + " " + info.label
}

func (l VegetarianLevel) Info() string {
	if l == LevelUnset {
		return l.Label()
	}
	info := levelInfos[l]
	return info.emoji + " " + info.fullName + " - " + info.description
}

// ConfidencePercent clamps to [0,1] and rounds to a whole percent.
func ConfidencePercent(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(1, score)) * 100))
}

// ConfidenceBand buckets a score into high, medium or low for the confidence bar.
func ConfidenceBand(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
