package model

import (
	"time"
)

// Language identifies one of the per-language item name columns.
type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageJapanese Language = "ja"
	LanguageFrench   Language = "fr"
	LanguageGerman   Language = "de"
)

// Languages lists every supported name language in column order.
var Languages = []Language{LanguageEnglish, LanguageJapanese, LanguageFrench, LanguageGerman}

// ParseLanguage maps a language code to a Language. Unknown codes report false.
func ParseLanguage(code string) (Language, bool) {
	for _, l := range Languages {
		if string(l) == code {
			return l, true
		}
	}
	return "", false
}

// ItemName holds the optional per-language display names of an item.
type ItemName struct {
	EN string `json:"en" yaml:"en"`
	JA string `json:"ja,omitempty" yaml:"ja"`
	FR string `json:"fr,omitempty" yaml:"fr"`
	DE string `json:"de,omitempty" yaml:"de"`
}

// In returns the name in the given language, falling back to English when
// no translation is recorded.
func (n ItemName) In(lang Language) string {
	var s string
	switch lang {
	case LanguageJapanese:
		s = n.JA
	case LanguageFrench:
		s = n.FR
	case LanguageGerman:
		s = n.DE
	}
	if s == "" {
		return n.EN
	}
	return s
}

// Item is a tradeable commodity. ID is unique and immutable once created.
type Item struct {
	ID   int64    `json:"id" yaml:"id"`
	Name ItemName `json:"name" yaml:"name"`
	HQ   bool     `json:"hq" yaml:"hq"`
}

// DisplayName returns the localized name with an " HQ" suffix for
// high-quality variants.
func (i Item) DisplayName(lang Language) string {
	name := i.Name.In(lang)
	if i.HQ {
		return name + " HQ"
	}
	return name
}

// Price is a single player submission. (item, Timestamp) is unique.
type Price struct {
	Timestamp time.Time `json:"timestamp"`
	Value     int64     `json:"value"` // zero means "no supply"
	Submitter UserRef   `json:"submitter"`
	Flagged   bool      `json:"flagged"`
}

// ItemState bundles an item with its most recent price, if any.
type ItemState struct {
	Item  Item   `json:"item"`
	Price *Price `json:"price,omitempty"`
}

// HasPrice reports whether a latest price is known.
func (s ItemState) HasPrice() bool {
	return s.Price != nil
}

// ItemRef is a cache entry: the latest state and the damped rolling average.
type ItemRef struct {
	ItemState
	Average *int64 `json:"average,omitempty"`
}

// Age returns how old the latest price is relative to now.
func (r ItemRef) Age(now time.Time) (time.Duration, bool) {
	if r.Price == nil {
		return 0, false
	}
	return now.Sub(r.Price.Timestamp), true
}

// WatchCount is the number of users watching an item.
type WatchCount struct {
	ItemID   int64 `json:"item_id"`
	Watchers int   `json:"watchers"`
}

// Related holds the crafting adjacency of an item.
type Related struct {
	CraftedFrom []int64 `json:"crafted_from" yaml:"crafted_from"`
	CraftsInto  []int64 `json:"crafts_into" yaml:"crafts_into"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
