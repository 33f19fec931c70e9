package classifier

import (
	"log/slog"
	"regexp"
	"strings"
)

// DefaultType is returned when neither an override nor a keyword matches.
const DefaultType = "session"

var (
	handlePattern     = regexp.MustCompile(`@[A-Za-z0-9_]{3,}`)
	normalizedPattern = regexp.MustCompile(`^[a-z0-9_]{3,}$`)
	billablePattern   = regexp.MustCompile(`(?i)billable\s*=\s*1`)
	slotFlagPattern   = regexp.MustCompile(`(?i)slot\s*=\s*1`)
	slotWordPattern   = regexp.MustCompile(`(?i)\bslot\b`)
	typePattern       = regexp.MustCompile(`(?i)type\s*=\s*([A-Za-z0-9_-]+)`)
	tokenSeparators   = regexp.MustCompile(`[\s,;]+`)
)

// Category is one row of the keyword table.
type Category struct {
	Tag      string
	Keywords []string
}

// keywordTable is ordered: the first category with any matching keyword wins.
var keywordTable = []Category{
	{Tag: "review", Keywords: []string{
		"review", "code review", "cv review", "resume", "portfolio",
		"ревью", "ревю", "разбор", "резюме", "перевірка", "рев'ю",
	}},
	{Tag: "session", Keywords: []string{
		"session", "mentoring", "mentor", "coaching", "1:1", "one-on-one",
		"сессия", "сесія", "менторинг", "менторство", "наставни", "коучинг",
	}},
	{Tag: "mock", Keywords: []string{
		"mock", "interview", "собес", "мок-", "мок интервью", "співбесід", "інтерв'ю",
	}},
	{Tag: "call", Keywords: []string{
		"call", "zoom", "meet", "созвон", "звонок", "дзвінок", "зустріч", "встреча",
	}},
	{Tag: "group", Keywords: []string{
		"group", "workshop", "webinar", "masterclass",
		"групп", "воркшоп", "вебинар", "мастер-класс", "група", "вебінар", "майстер-клас",
	}},
	{Tag: "admin", Keywords: []string{
		"admin", "invoice", "billing", "paperwork", "accounting",
		"админ", "счет", "счёт", "бухгалт", "адмін", "рахунок",
	}},
	{Tag: "prep", Keywords: []string{
		"prep", "preparation", "prepare",
		"подготов", "підготов",
	}},
	{Tag: "chat", Keywords: []string{
		"chat", "coffee", "intro", "catch up", "catch-up",
		"чат", "кофе", "знакомство", "кава", "знайомство", "поболтать",
	}},
}

// Categories returns the ordered keyword table.
func Categories() []Category {
	out := make([]Category, len(keywordTable))
	copy(out, keywordTable)
	return out
}

// Classification is everything derived from an event's free text.
type Classification struct {
	Handle   string `json:"handle,omitempty"`
	Billable bool   `json:"billable"`
	Slot     bool   `json:"slot"`
	Type     string `json:"type"`
}

// HasHandle reports whether an attribution handle was found.
func (c Classification) HasHandle() bool {
	return c.Handle != ""
}

// Classifier derives attribution and category from event text.
type Classifier interface {
	Classify(summary, description string) Classification
}

// HeuristicClassifier uses the pattern and keyword rules of this package.
type HeuristicClassifier struct {
	logger *slog.Logger
}

// NewClassifier creates a new heuristic classifier.
func NewClassifier(logger *slog.Logger) *HeuristicClassifier {
	return &HeuristicClassifier{logger: logger}
}

// Classify runs every predicate over the summary and description.
func (c *HeuristicClassifier) Classify(summary, description string) Classification {
	handle, _ := ExtractHandle(summary, description)
	out := Classification{
		Handle:   handle,
		Billable: IsBillable(description),
		Slot:     IsThrowawaySlot(summary, description),
		Type:     ClassifyType(summary, description),
	}
	c.logger.Debug("classified event",
		"handle", out.Handle, "billable", out.Billable, "slot", out.Slot, "type", out.Type,
		"summary_prefix", truncate(summary, 60))
	return out
}

// ExtractHandle returns the first @handle found in the summary, then the description.
func ExtractHandle(summary, description string) (string, bool) {
	m := handlePattern.FindString(summary + "\n" + description)
	if m == "" {
		return "", false
	}
	return NormalizeHandle(m), true
}

// NormalizeHandle strips leading @ characters and lowercases.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(s), "@"))
}

// IsValidHandle reports whether s is already a normalized handle.
func IsValidHandle(s string) bool {
	return normalizedPattern.MatchString(s)
}

// ParseHandles extracts every handle embedded in a person's contact text.
// @-prefixed tokens win; without any, the text is split on whitespace,
// commas and semicolons and each token is normalized.
func ParseHandles(text string) []string {
	var raw []string
	if found := handlePattern.FindAllString(text, -1); len(found) > 0 {
		raw = found
	} else {
		raw = tokenSeparators.Split(text, -1)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		h := NormalizeHandle(tok)
		if !IsValidHandle(h) {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// IsBillable reports whether the description carries billable=1.
func IsBillable(description string) bool {
	return billablePattern.MatchString(description)
}

// IsThrowawaySlot reports whether the event is an open booking slot.
func IsThrowawaySlot(summary, description string) bool {
	return slotFlagPattern.MatchString(description) || slotWordPattern.MatchString(summary)
}

// ClassifyType returns the type=<token> override if present, otherwise the
// first keyword category matching the text, otherwise DefaultType.
func ClassifyType(summary, description string) string {
	if m := typePattern.FindStringSubmatch(description); m != nil {
		return strings.ToLower(m[1])
	}

	lower := strings.ToLower(summary + "\n" + description)
	for _, cat := range keywordTable {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				return cat.Tag
			}
		}
	}
	return DefaultType
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
