package llm

import (
	"regexp"
	"sort"
	"strings"

	"github.com/itish2003/legaldoc/models"
)

var (
	closingTagRe = regexp.MustCompile(`</([\p{L}\p{N}_]+)>`)
	codeFenceRe  = regexp.MustCompile("```[\\w-]*")
	tokenSepRe   = regexp.MustCompile(`[\n<>]`)
)

// Section is one tagged block of model output. Tag is the raw tag name, used as the section id
// across both extraction stages.
type Section struct {
	Tag     string
	Content string
}

type delimiter struct {
	start, end int
	tag        string
}

// ParseSections splits tagged model output into sections in emission order.
// Fragments are delimited by closing tags and code fences. Inside a fragment, text before the
// matching opening tag is discarded; otherwise the first non-empty token is taken as the tag.
// Sections without content are dropped.
func ParseSections(raw string) []Section {
	var delims []delimiter
	for _, m := range closingTagRe.FindAllStringSubmatchIndex(raw, -1) {
		delims = append(delims, delimiter{start: m[0], end: m[1], tag: raw[m[2]:m[3]]})
	}
	for _, m := range codeFenceRe.FindAllStringIndex(raw, -1) {
		delims = append(delims, delimiter{start: m[0], end: m[1]})
	}
	sort.Slice(delims, func(i, j int) bool { return delims[i].start < delims[j].start })

	var out []Section
	pos := 0
	for _, d := range delims {
		if d.start < pos {
			continue
		}
		if s, ok := parseFragment(raw[pos:d.start], d.tag); ok {
			out = append(out, s)
		}
		pos = d.end
	}
	if s, ok := parseFragment(raw[pos:], ""); ok {
		out = append(out, s)
	}
	return out
}

func parseFragment(fragment, closingTag string) (Section, bool) {
	tag := ""
	if closingTag != "" {
		open := "<" + closingTag + ">"
		if i := strings.LastIndex(fragment, open); i >= 0 {
			fragment = fragment[i+len(open):]
			tag = closingTag
		}
	}

	var tokens []string
	for _, tok := range tokenSepRe.Split(fragment, -1) {
		tok = strings.TrimRight(tok, " \t\r")
		if strings.TrimSpace(tok) == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	if tag == "" {
		if len(tokens) == 0 {
			return Section{}, false
		}
		tag = strings.TrimSpace(tokens[0])
		tokens = tokens[1:]
	}
	content := strings.Join(tokens, "\n")
	if strings.TrimSpace(content) == "" {
		return Section{}, false
	}
	return Section{Tag: tag, Content: content}, true
}

// Tags returns the raw tag of every section, in order.
func Tags(sections []Section) []string {
	tags := make([]string, len(sections))
	for i, s := range sections {
		tags[i] = s.Tag
	}
	return tags
}

// PairTitles builds clauses from stage-1 sections and stage-2 restored titles. A section takes the
// title emitted under its own tag. Without one, it falls back to the title at the same position
// when both stages produced the same number of entries, and otherwise to its tag with
// underscores shown as spaces.
func PairTitles(sections []Section, titles []Section) []models.Clause {
	byTag := make(map[string][]string, len(titles))
	for _, t := range titles {
		byTag[t.Tag] = append(byTag[t.Tag], firstLine(t.Content))
	}
	positional := len(titles) == len(sections)

	clauses := make([]models.Clause, len(sections))
	for i, s := range sections {
		title := ""
		if queue := byTag[s.Tag]; len(queue) > 0 {
			title, byTag[s.Tag] = queue[0], queue[1:]
		} else if positional {
			title = firstLine(titles[i].Content)
		}
		if title == "" {
			title = humanizeTag(s.Tag)
		}
		clauses[i] = models.Clause{Title: title, Content: s.Content}
	}
	return clauses
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func humanizeTag(tag string) string {
	return strings.TrimSpace(strings.ReplaceAll(tag, "_", " "))
}
