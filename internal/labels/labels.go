// Package labels loads Salesforce custom labels and answers locale-aware
// lookups with a full locale, language, "en" fallback chain.
package labels

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is the last step of every fallback chain.
const DefaultLocale = "en"

// Section is the label namespace used in label ids ("c.greeting").
const Section = "c"

// rootElement is the document element of a labels metadata file.
const rootElement = "CustomLabels"

type customLabels struct {
	XMLName xml.Name
	Labels  []customLabel `xml:"labels"`
}

type customLabel struct {
	FullName string `xml:"fullName"`
	Language string `xml:"language"`
	Value    string `xml:"value"`
}

// Table maps locale to label id to value.
type Table struct {
	values map[string]map[string]string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{values: make(map[string]map[string]string)}
}

// Load parses a CustomLabels metadata file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a table from CustomLabels XML. Well-formed documents without
// labels, or with a root other than CustomLabels, yield an empty table.
func Parse(data []byte) (*Table, error) {
	var doc customLabels
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing custom labels: %w", err)
	}

	t := NewTable()
	if doc.XMLName.Local != rootElement {
		return t, nil
	}
	var regional []customLabel
	for _, l := range doc.Labels {
		if l.FullName == "" {
			continue
		}
		locale := NormalizeLocale(l.Language)
		if locale == "" {
			locale = DefaultLocale
		}
		if lang := languageOf(locale); lang != locale {
			regional = append(regional, customLabel{FullName: l.FullName, Language: locale, Value: l.Value})
		}
		t.set(locale, ID(Section, l.FullName), l.Value)
	}

	// en_US also answers for en, unless en was declared itself.
	for _, l := range regional {
		lang := languageOf(l.Language)
		id := ID(Section, l.FullName)
		if _, ok := t.values[lang][id]; ok {
			continue
		}
		t.set(lang, id, l.Value)
	}
	return t, nil
}

func (t *Table) set(locale, id, value string) {
	m, ok := t.values[locale]
	if !ok {
		m = make(map[string]string)
		t.values[locale] = m
	}
	m[id] = value
}

// ID joins a section and label name.
func ID(section, name string) string {
	return section + "." + name
}

// Lookup returns the value of id for locale, trying the full locale, then its
// language, then DefaultLocale.
func (t *Table) Lookup(id, locale string) (string, bool) {
	for _, candidate := range Chain(locale) {
		if v, ok := t.values[candidate][id]; ok {
			return v, true
		}
	}
	return "", false
}

// IDs returns the sorted label ids in section across all locales, or every
// id when section is empty.
func (t *Table) IDs(section string) []string {
	seen := make(map[string]bool)
	for _, m := range t.values {
		for id := range m {
			if section == "" || strings.HasPrefix(id, section+".") {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of distinct label ids.
func (t *Table) Len() int {
	return len(t.IDs(""))
}

// Locales returns the sorted locales present in the table.
func (t *Table) Locales() []string {
	locales := make([]string, 0, len(t.values))
	for l := range t.values {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	return locales
}

// Chain returns the lookup order for locale without duplicates.
func Chain(locale string) []string {
	var chain []string
	add := func(l string) {
		if l == "" {
			return
		}
		for _, c := range chain {
			if c == l {
				return
			}
		}
		chain = append(chain, l)
	}

	normalized := NormalizeLocale(locale)
	add(normalized)
	add(languageOf(normalized))
	add(DefaultLocale)
	return chain
}

// NormalizeLocale turns en-us, en_US and EN_us into en_US. Strings that are
// not BCP 47 tags are returned trimmed and otherwise unchanged.
func NormalizeLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return locale
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf != language.Exact {
		return base.String()
	}
	return base.String() + "_" + region.String()
}

func languageOf(locale string) string {
	if i := strings.Index(locale, "_"); i > 0 {
		return locale[:i]
	}
	return locale
}
