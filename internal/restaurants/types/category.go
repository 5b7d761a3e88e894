package types

import "strings"

type Category string

const (
	Korean   Category = "korean"
	Chinese  Category = "chinese"
	Japanese Category = "japanese"
	Western  Category = "western"
	Cafe     Category = "cafe"
	Etc      Category = "etc"
)

// Categories is the display order of the filter chips.
var Categories = []Category{Korean, Chinese, Japanese, Western, Cafe, Etc}

var localized = map[Category]string{
	Korean:   "한식",
	Chinese:  "중식",
	Japanese: "일식",
	Western:  "양식",
	Cafe:     "카페",
	Etc:      "기타",
}

var emoji = map[Category]string{
	Korean:   "🍚",
	Chinese:  "🥟",
	Japanese: "🍱",
	Western:  "🍝",
	Cafe:     "☕",
	Etc:      "🍽️",
}

// Localized is the Korean name the search endpoint expects.
func (c Category) Localized() string {
	if name, ok := localized[c]; ok {
		return name
	}
	return localized[Etc]
}

func (c Category) Emoji() string {
	return emoji[c]
}

func (c Category) Valid() bool {
	_, ok := localized[c]
	return ok
}

// rules are checked in order; first substring hit wins.
var categoryRules = []struct {
	needles  []string
	category Category
}{
	{[]string{"한식", "korean"}, Korean},
	{[]string{"중식", "chinese"}, Chinese},
	{[]string{"일식", "japanese"}, Japanese},
	{[]string{"양식", "western"}, Western},
	{[]string{"카페", "cafe", "coffee"}, Cafe},
}

// ParseCategory maps a raw backend category string onto one of the six
// enum values. Unknown or empty input becomes Etc, never a raw string.
func ParseCategory(raw string) Category {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return Etc
	}
	for _, rule := range categoryRules {
		for _, n := range rule.needles {
			if strings.Contains(lower, n) {
				return rule.category
			}
		}
	}
	return Etc
}

// JoinLocalized builds the comma separated category parameter. No categories yields "".
func JoinLocalized(categories []Category) string {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Localized())
	}
	return strings.Join(names, ",")
}
