package query

import (
	_ "embed"
	"sort"

	"github.com/BurntSushi/toml"
)

//go:embed dictionary.toml
var dictionaryTOML []byte

// dictionary holds the static expansion tables.
type dictionary struct {
	Synonyms map[string][]string `toml:"synonyms"`
	Acronyms map[string][]string `toml:"acronyms"`
	Concepts map[string][]string `toml:"concepts"`
}

// loadDictionary parses the embedded TOML. The embed is part of the build,
// so a parse failure is a programming error and panics at init.
func loadDictionary() *dictionary {
	var d dictionary
	if err := toml.Unmarshal(dictionaryTOML, &d); err != nil {
		panic("query: embedded dictionary invalid: " + err.Error())
	}
	return &d
}

var defaultDictionary = loadDictionary()

// expand returns the expansion terms for one keyword, deduplicated and
// sorted for determinism.
func (d *dictionary) expand(term string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(values []string) {
		for _, v := range values {
			if v != term && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	add(d.Synonyms[term])
	add(d.Acronyms[term])
	add(d.Concepts[term])
	sort.Strings(out)
	return out
}
