package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind names a property shape on the wire.
type Kind string

const (
	KindTitle    Kind = "title"
	KindRichText Kind = "rich_text"
	KindDate     Kind = "date"
	KindNumber   Kind = "number"
	KindSelect   Kind = "select"
	KindURL      Kind = "url"
	KindRelation Kind = "relation"
)

// maxTextChunk is the per-item content limit for title and rich_text arrays.
const maxTextChunk = 2000

// Value is a typed property value. The set of implementations is closed:
// Title, RichText, Date, Number, Select, URL and Relation.
type Value interface {
	Kind() Kind
	encode() any
}

// Title is a title property.
type Title string

// RichText is a rich_text property, flattened to plain text.
type RichText string

// Date is a date property. Start and End hold ISO-8601 strings as written.
type Date struct {
	Start string
	End   string
}

// ParseInstant parses a date property value: an RFC 3339 timestamp or a bare date.
func ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// Number is a number property.
type Number float64

// Select is a select property. Status properties decode into Select as well.
type Select string

// URL is a url property.
type URL string

// Relation is an ordered list of related page ids, compared as a set.
type Relation []string

func (Title) Kind() Kind    { return KindTitle }
func (RichText) Kind() Kind { return KindRichText }
func (Date) Kind() Kind     { return KindDate }
func (Number) Kind() Kind   { return KindNumber }
func (Select) Kind() Kind   { return KindSelect }
func (URL) Kind() Kind      { return KindURL }
func (Relation) Kind() Kind { return KindRelation }

type wireTextContent struct {
	Content string `json:"content"`
}

type wireText struct {
	Type      string           `json:"type,omitempty"`
	PlainText string           `json:"plain_text,omitempty"`
	Text      *wireTextContent `json:"text,omitempty"`
}

type wireDate struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

type wireOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type wireRelation struct {
	ID string `json:"id"`
}

// wireProperty is the union of every shape this package reads.
type wireProperty struct {
	Type     string         `json:"type"`
	Title    []wireText     `json:"title"`
	RichText []wireText     `json:"rich_text"`
	Date     *wireDate      `json:"date"`
	Number   *float64       `json:"number"`
	Select   *wireOption    `json:"select"`
	Status   *wireOption    `json:"status"`
	URL      *string        `json:"url"`
	Relation []wireRelation `json:"relation"`
}

func textItems(s string) []wireText {
	items := make([]wireText, 0, 1)
	runes := []rune(s)
	for len(runes) > 0 {
		n := len(runes)
		if n > maxTextChunk {
			n = maxTextChunk
		}
		items = append(items, wireText{Type: "text", Text: &wireTextContent{Content: string(runes[:n])}})
		runes = runes[n:]
	}
	return items
}

func plainText(items []wireText) string {
	var b strings.Builder
	for _, it := range items {
		switch {
		case it.PlainText != "":
			b.WriteString(it.PlainText)
		case it.Text != nil:
			b.WriteString(it.Text.Content)
		}
	}
	return b.String()
}

func (v Title) encode() any {
	return struct {
		Title []wireText `json:"title"`
	}{textItems(string(v))}
}

func (v RichText) encode() any {
	return struct {
		RichText []wireText `json:"rich_text"`
	}{textItems(string(v))}
}

func (v Date) encode() any {
	if v.Start == "" {
		return struct {
			Date *wireDate `json:"date"`
		}{nil}
	}
	d := &wireDate{Start: v.Start}
	if v.End != "" {
		end := v.End
		d.End = &end
	}
	return struct {
		Date *wireDate `json:"date"`
	}{d}
}

func (v Number) encode() any {
	return struct {
		Number float64 `json:"number"`
	}{float64(v)}
}

func (v Select) encode() any {
	if v == "" {
		return struct {
			Select *wireOption `json:"select"`
		}{nil}
	}
	return struct {
		Select *wireOption `json:"select"`
	}{&wireOption{Name: string(v)}}
}

func (v URL) encode() any {
	if v == "" {
		return struct {
			URL *string `json:"url"`
		}{nil}
	}
	s := string(v)
	return struct {
		URL *string `json:"url"`
	}{&s}
}

func (v Relation) encode() any {
	items := make([]wireRelation, 0, len(v))
	for _, id := range v {
		items = append(items, wireRelation{ID: id})
	}
	return struct {
		Relation []wireRelation `json:"relation"`
	}{items}
}

// EncodeValue renders a typed value in its wire shape.
func EncodeValue(v Value) ([]byte, error) {
	return json.Marshal(v.encode())
}

// DecodeValue parses a wire property. Unsupported shapes return (nil, nil).
func DecodeValue(raw []byte) (Value, error) {
	var w wireProperty
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decoding property: %w", err)
	}

	kind := w.Type
	if kind == "" {
		kind = inferKind(w)
	}

	switch kind {
	case string(KindTitle):
		return Title(plainText(w.Title)), nil
	case string(KindRichText):
		return RichText(plainText(w.RichText)), nil
	case string(KindDate):
		if w.Date == nil {
			return Date{}, nil
		}
		d := Date{Start: w.Date.Start}
		if w.Date.End != nil {
			d.End = *w.Date.End
		}
		return d, nil
	case string(KindNumber):
		if w.Number == nil {
			return nil, nil
		}
		return Number(*w.Number), nil
	case string(KindSelect):
		if w.Select == nil {
			return Select(""), nil
		}
		return Select(w.Select.Name), nil
	case "status":
		if w.Status == nil {
			return Select(""), nil
		}
		return Select(w.Status.Name), nil
	case string(KindURL):
		if w.URL == nil {
			return URL(""), nil
		}
		return URL(*w.URL), nil
	case string(KindRelation):
		ids := make(Relation, 0, len(w.Relation))
		for _, r := range w.Relation {
			ids = append(ids, r.ID)
		}
		return ids, nil
	default:
		return nil, nil
	}
}

func inferKind(w wireProperty) string {
	switch {
	case w.Title != nil:
		return string(KindTitle)
	case w.RichText != nil:
		return string(KindRichText)
	case w.Date != nil:
		return string(KindDate)
	case w.Number != nil:
		return string(KindNumber)
	case w.Select != nil:
		return string(KindSelect)
	case w.Status != nil:
		return "status"
	case w.URL != nil:
		return string(KindURL)
	case w.Relation != nil:
		return string(KindRelation)
	}
	return ""
}

// Properties maps property names to typed values.
type Properties map[string]Value

// MarshalJSON encodes every value in its wire shape.
func (p Properties) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p))
	for name, v := range p {
		if v == nil {
			continue
		}
		b, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encoding property %q: %w", name, err)
		}
		out[name] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known shapes and drops the rest.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	props := make(Properties, len(raw))
	for name, msg := range raw {
		v, err := DecodeValue(msg)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		if v != nil {
			props[name] = v
		}
	}
	*p = props
	return nil
}

// Text returns the plain-text content of a title, rich_text, select or url property.
func (p Properties) Text(name string) string {
	switch v := p[name].(type) {
	case Title:
		return string(v)
	case RichText:
		return string(v)
	case Select:
		return string(v)
	case URL:
		return string(v)
	}
	return ""
}

// Relation returns the related ids of a relation property.
func (p Properties) Relation(name string) []string {
	if v, ok := p[name].(Relation); ok {
		return []string(v)
	}
	return nil
}

// Number returns the value of a number property.
func (p Properties) Number(name string) (float64, bool) {
	if v, ok := p[name].(Number); ok {
		return float64(v), true
	}
	return 0, false
}

// DateStart returns the start string of a date property.
func (p Properties) DateStart(name string) string {
	if v, ok := p[name].(Date); ok {
		return v.Start
	}
	return ""
}
