package store

// Filter is a database query filter. A leaf filter names a Property and sets
// exactly one condition; a compound filter sets And or Or.
type Filter struct {
	Property string             `json:"property,omitempty"`
	Title    *TextCondition     `json:"title,omitempty"`
	RichText *TextCondition     `json:"rich_text,omitempty"`
	Relation *RelationCondition `json:"relation,omitempty"`
	Date     *DateCondition     `json:"date,omitempty"`
	Select   *OptionCondition   `json:"select,omitempty"`
	Status   *OptionCondition   `json:"status,omitempty"`
	And      []Filter           `json:"and,omitempty"`
	Or       []Filter           `json:"or,omitempty"`
}

// TextCondition matches title and rich_text properties.
type TextCondition struct {
	Equals   string `json:"equals,omitempty"`
	Contains string `json:"contains,omitempty"`
}

// RelationCondition matches relation properties.
type RelationCondition struct {
	Contains string `json:"contains,omitempty"`
}

// DateCondition matches date properties by their start.
type DateCondition struct {
	OnOrAfter  string `json:"on_or_after,omitempty"`
	OnOrBefore string `json:"on_or_before,omitempty"`
}

// OptionCondition matches select and status properties.
type OptionCondition struct {
	Equals string `json:"equals,omitempty"`
}

// Direction orders a sort.
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// Sort orders query results by a property.
type Sort struct {
	Property  string    `json:"property"`
	Direction Direction `json:"direction"`
}

// TextEquals matches a rich_text property exactly.
func TextEquals(property, value string) Filter {
	return Filter{Property: property, RichText: &TextCondition{Equals: value}}
}

// TextContains matches a rich_text property by substring.
func TextContains(property, value string) Filter {
	return Filter{Property: property, RichText: &TextCondition{Contains: value}}
}

// RelationContains matches a relation property holding id.
func RelationContains(property, id string) Filter {
	return Filter{Property: property, Relation: &RelationCondition{Contains: id}}
}

// DateBetween matches a date property whose start lies in [from, to].
func DateBetween(property, from, to string) Filter {
	return Filter{And: []Filter{
		{Property: property, Date: &DateCondition{OnOrAfter: from}},
		{Property: property, Date: &DateCondition{OnOrBefore: to}},
	}}
}

// OptionIn matches a select or status property equal to any of values.
// kind must be "select" or "status".
func OptionIn(property, kind string, values []string) Filter {
	or := make([]Filter, 0, len(values))
	for _, v := range values {
		f := Filter{Property: property}
		if kind == "status" {
			f.Status = &OptionCondition{Equals: v}
		} else {
			f.Select = &OptionCondition{Equals: v}
		}
		or = append(or, f)
	}
	return Filter{Or: or}
}

// All combines filters with and, collapsing a single filter.
func All(filters ...Filter) Filter {
	if len(filters) == 1 {
		return filters[0]
	}
	return Filter{And: filters}
}
