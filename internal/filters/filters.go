// Package filters holds the search text and category selection shared by the
// search bar and the result list.
package filters

import (
	"slices"
	"strings"

	"veganagain/internal/restaurants/types"
)

// Filters is a value; every mutation returns a new one.
type Filters struct {
	Text       string           `json:"text"`
	Categories []types.Category `json:"categories,omitempty"`
}

// SetSearchText stores the text as typed. Trimming happens at fetch time.
func (f Filters) SetSearchText(text string) Filters {
	f.Text = text
	return f
}

// ToggleCategory adds c when absent and removes it when present.
// Unknown categories are ignored.
func (f Filters) ToggleCategory(c types.Category) Filters {
	if !c.Valid() {
		return f
	}
	if i := slices.Index(f.Categories, c); i >= 0 {
		f.Categories = slices.Delete(slices.Clone(f.Categories), i, i+1)
	} else {
		f.Categories = append(slices.Clone(f.Categories), c)
	}
	if len(f.Categories) == 0 {
		f.Categories = nil
	}
	return f
}

// ResetFilters clears text and categories together.
func ResetFilters() Filters {
	return Filters{}
}

func (f Filters) Has(c types.Category) bool {
	return slices.Contains(f.Categories, c)
}

// Selected returns the categories in display order.
func (f Filters) Selected() []types.Category {
	return slices.DeleteFunc(slices.Clone(types.Categories), func(c types.Category) bool { return !f.Has(c) })
}

func (f Filters) Empty() bool {
	return strings.TrimSpace(f.Text) == "" && len(f.Categories) == 0
}

// Key identifies the fetch a filter value would issue.
func (f Filters) Key() string {
	return strings.TrimSpace(f.Text) + "\x00" + types.JoinLocalized(f.Selected())
}

// Equal compares selections ignoring toggle order.
func (f Filters) Equal(o Filters) bool {
	return f.Text == o.Text && slices.Equal(f.Selected(), o.Selected())
}

// Parse reads a free-form list of category names as submitted by forms.
func Parse(text string, categories []string) Filters {
	f := Filters{Text: text}
	for _, raw := range categories {
		c := types.Category(strings.ToLower(strings.TrimSpace(raw)))
		if c.Valid() && !f.Has(c) {
			f.Categories = append(f.Categories, c)
		}
	}
	return f
}
