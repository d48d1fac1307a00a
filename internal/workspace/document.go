package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
)

// SupportedSchemaVersion is the workspace document schema this parser
// understands. schema_version gates parsing only; the workspace `version`
// field identifies content and flows into query fingerprints.
const SupportedSchemaVersion = 1

// document is the YAML wire form of a workspace.
type document struct {
	SchemaVersion int               `yaml:"schema_version,omitempty"`
	Version       string            `yaml:"version"`
	Name          string            `yaml:"name"`
	Projects      []projectDoc      `yaml:"projects"`
	Relationships []relationshipDoc `yaml:"relationships,omitempty"`
	Search        *searchDoc        `yaml:"search,omitempty"`
}

type projectDoc struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Path         string            `yaml:"path"`
	Type         string            `yaml:"type,omitempty"`
	Language     []string          `yaml:"language,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Indexing     *indexingDoc      `yaml:"indexing,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

type indexingDoc struct {
	Enabled  *bool    `yaml:"enabled,omitempty"`
	Priority string   `yaml:"priority,omitempty"`
	Exclude  []string `yaml:"exclude,omitempty"`
}

type relationshipDoc struct {
	From        string   `yaml:"from"`
	To          string   `yaml:"to"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description,omitempty"`
	Weight      *float64 `yaml:"weight,omitempty"`
}

type searchDoc struct {
	Limit               *int     `yaml:"limit,omitempty"`
	IncludeDependencies *bool    `yaml:"include_dependencies,omitempty"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold,omitempty"`
}

// Defaults applied when the document omits the corresponding field.
const (
	defaultSearchLimit         = 10
	defaultSimilarityThreshold = 0.7
)

// nodeSchema describes the known keys at one level of the document, used
// to warn about unknown fields without failing the load.
type nodeSchema struct {
	keys     map[string]*nodeSchema
	freeform bool
}

var documentSchema = &nodeSchema{keys: map[string]*nodeSchema{
	"schema_version": nil,
	"version":        nil,
	"name":           nil,
	"projects": {keys: map[string]*nodeSchema{
		"id":           nil,
		"name":         nil,
		"path":         nil,
		"type":         nil,
		"language":     nil,
		"dependencies": nil,
		"indexing": {keys: map[string]*nodeSchema{
			"enabled":  nil,
			"priority": nil,
			"exclude":  nil,
		}},
		"metadata": {freeform: true},
	}},
	"relationships": {keys: map[string]*nodeSchema{
		"from":        nil,
		"to":          nil,
		"type":        nil,
		"description": nil,
		"weight":      nil,
	}},
	"search": {keys: map[string]*nodeSchema{
		"limit":                nil,
		"include_dependencies": nil,
		"similarity_threshold": nil,
	}},
}}

// collectUnknownKeys walks the YAML node tree against the schema and
// records the dotted path of every key the schema does not know.
func collectUnknownKeys(n *yaml.Node, schema *nodeSchema, path string, unknown *[]string) {
	if n == nil || schema == nil || schema.freeform {
		return
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			collectUnknownKeys(c, schema, path, unknown)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			collectUnknownKeys(c, schema, fmt.Sprintf("%s[%d]", path, i), unknown)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			child, ok := schema.keys[key]
			if !ok {
				*unknown = append(*unknown, childPath)
				continue
			}
			collectUnknownKeys(n.Content[i+1], child, childPath, unknown)
		}
	}
}

// Parse decodes a workspace document. Relative project paths resolve
// against baseDir (or the working directory when baseDir is empty).
//
// Parsing is strict in the sense the document format requires: unknown
// fields are returned as warnings, invalid values fail the parse. The
// returned workspace is not yet validated; run Validate before use.
func Parse(data []byte, baseDir string) (*Workspace, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, faults.Wrap(err, faults.CategoryValidation,
			faults.CodeInvalidWorkspaceValue, "malformed workspace document")
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
			"empty workspace document")
	}

	var unknown []string
	collectUnknownKeys(&root, documentSchema, "", &unknown)

	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, unknown, faults.Wrap(err, faults.CategoryValidation,
			faults.CodeInvalidWorkspaceValue, "workspace document")
	}

	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = SupportedSchemaVersion
	}
	if doc.SchemaVersion != SupportedSchemaVersion {
		return nil, unknown, faults.Validation(faults.CodeInvalidSchemaVersion,
			"unsupported schema_version %d (supported: %d)", doc.SchemaVersion, SupportedSchemaVersion)
	}

	w, err := doc.toModel(baseDir)
	if err != nil {
		return nil, unknown, err
	}
	return w, unknown, nil
}

// toModel converts the wire form to the in-memory model, applying defaults
// and failing on invalid values.
func (d *document) toModel(baseDir string) (*Workspace, error) {
	w := &Workspace{
		SchemaVersion: d.SchemaVersion,
		Version:       d.Version,
		Name:          d.Name,
	}

	for _, pd := range d.Projects {
		p := &Project{
			ID:           pd.ID,
			Name:         pd.Name,
			Path:         pd.Path,
			Type:         pd.Type,
			Languages:    emptyToNil(pd.Language),
			Dependencies: emptyToNil(pd.Dependencies),
			Indexing: IndexingPolicy{
				Enabled:  true,
				Priority: PriorityNormal,
			},
		}
		if len(pd.Metadata) > 0 {
			p.Metadata = pd.Metadata
		}

		if p.Path != "" {
			abs, err := resolvePath(p.Path, baseDir)
			if err != nil {
				return nil, faults.Wrap(err, faults.CategoryValidation,
					faults.CodeInvalidWorkspaceValue, "project %q path", pd.ID)
			}
			p.Path = abs
		}

		if pd.Indexing != nil {
			if pd.Indexing.Enabled != nil {
				p.Indexing.Enabled = *pd.Indexing.Enabled
			}
			prio, err := ParsePriority(pd.Indexing.Priority)
			if err != nil {
				return nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
					"project %q: %v", pd.ID, err)
			}
			p.Indexing.Priority = prio
			p.Indexing.ExcludeGlobs = emptyToNil(pd.Indexing.Exclude)
			if _, err := NewPathFilter(p.Indexing.ExcludeGlobs); err != nil {
				return nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
					"project %q: %v", pd.ID, err)
			}
		}

		w.Projects = append(w.Projects, p)
	}

	for _, rd := range d.Relationships {
		r := Relationship{
			From:        rd.From,
			To:          rd.To,
			Kind:        RelationshipKind(rd.Type),
			Description: rd.Description,
		}
		if rd.Weight != nil {
			if *rd.Weight < 0 || *rd.Weight > 1 {
				return nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
					"relationship %s -> %s: weight %v out of range [0,1]", rd.From, rd.To, *rd.Weight)
			}
			r.Weight = *rd.Weight
		}
		w.Relationships = append(w.Relationships, r)
	}

	w.SearchDefaults = SearchDefaults{
		Limit:               defaultSearchLimit,
		SimilarityThreshold: defaultSimilarityThreshold,
	}
	if d.Search != nil {
		if d.Search.Limit != nil {
			if *d.Search.Limit < 1 {
				return nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
					"search limit %d must be >= 1", *d.Search.Limit)
			}
			w.SearchDefaults.Limit = *d.Search.Limit
		}
		if d.Search.IncludeDependencies != nil {
			w.SearchDefaults.IncludeDependencies = *d.Search.IncludeDependencies
		}
		if d.Search.SimilarityThreshold != nil {
			if t := *d.Search.SimilarityThreshold; t < 0 || t > 1 {
				return nil, faults.Validation(faults.CodeInvalidWorkspaceValue,
					"search similarity_threshold %v out of range [0,1]", t)
			}
			w.SearchDefaults.SimilarityThreshold = *d.Search.SimilarityThreshold
		}
	}

	return w, nil
}

// Marshal encodes the workspace back into its YAML document form. The
// encoding is deterministic and explicit: defaults that Parse applied are
// written out, so Parse(Marshal(w)) reproduces w exactly.
func Marshal(w *Workspace) ([]byte, error) {
	doc := document{
		SchemaVersion: w.SchemaVersion,
		Version:       w.Version,
		Name:          w.Name,
	}
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = SupportedSchemaVersion
	}

	for _, p := range w.Projects {
		enabled := p.Indexing.Enabled
		pd := projectDoc{
			ID:           p.ID,
			Name:         p.Name,
			Path:         p.Path,
			Type:         p.Type,
			Language:     p.Languages,
			Dependencies: p.Dependencies,
			Indexing: &indexingDoc{
				Enabled:  &enabled,
				Priority: string(p.Indexing.Priority),
				Exclude:  p.Indexing.ExcludeGlobs,
			},
			Metadata: p.Metadata,
		}
		doc.Projects = append(doc.Projects, pd)
	}

	for _, r := range w.Relationships {
		rd := relationshipDoc{
			From:        r.From,
			To:          r.To,
			Type:        string(r.Kind),
			Description: r.Description,
		}
		if r.Weight != 0 {
			weight := r.Weight
			rd.Weight = &weight
		}
		doc.Relationships = append(doc.Relationships, rd)
	}

	limit := w.SearchDefaults.Limit
	include := w.SearchDefaults.IncludeDependencies
	threshold := w.SearchDefaults.SimilarityThreshold
	doc.Search = &searchDoc{
		Limit:               &limit,
		IncludeDependencies: &include,
		SimilarityThreshold: &threshold,
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode workspace document: %w", err)
	}
	return out, nil
}

// LoadFile reads and parses a workspace document from disk. Relative
// project paths resolve against the document's directory.
func LoadFile(path string) (*Workspace, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, faults.Wrap(err, faults.CategoryValidation,
			faults.CodePathNotFound, "workspace document %s", path)
	}
	return Parse(data, filepath.Dir(path))
}

// SaveFile writes the workspace document atomically (write to a temp file
// in the same directory, then rename).
func SaveFile(w *Workspace, path string) error {
	data, err := Marshal(w)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".workspace-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp workspace file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("write workspace document: %w", werr)
		}
		return fmt.Errorf("write workspace document: %w", cerr)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod workspace document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace workspace document: %w", err)
	}
	return nil
}

func resolvePath(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if baseDir != "" {
		return filepath.Clean(filepath.Join(baseDir, path)), nil
	}
	return filepath.Abs(path)
}

func emptyToNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
