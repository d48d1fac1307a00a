package workspace

import "time"

// WorkspaceInfo is the serializable summary returned by the workspace
// tool operations.
type WorkspaceInfo struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Generation   uint64        `json:"generation"`
	LoadedAt     time.Time     `json:"loaded_at"`
	ProjectCount int           `json:"project_count"`
	Projects     []ProjectInfo `json:"projects"`
}

// ProjectInfo is the serializable summary of one project.
type ProjectInfo struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Path          string             `json:"path"`
	Type          string             `json:"type,omitempty"`
	Languages     []string           `json:"languages,omitempty"`
	Dependencies  []string           `json:"dependencies,omitempty"`
	Enabled       bool               `json:"enabled"`
	Priority      string             `json:"priority"`
	ExcludeGlobs  []string           `json:"exclude_globs,omitempty"`
	Relationships []RelationshipInfo `json:"relationships,omitempty"`
}

// RelationshipInfo is the serializable form of a declared relationship.
type RelationshipInfo struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Kind        string  `json:"kind"`
	Weight      float64 `json:"weight,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Info summarizes the snapshot for the tool surface.
func (s *Snapshot) Info() WorkspaceInfo {
	info := WorkspaceInfo{
		Name:         s.ws.Name,
		Version:      s.ws.Version,
		Generation:   s.generation,
		LoadedAt:     s.loadedAt,
		ProjectCount: len(s.ws.Projects),
	}
	for _, p := range s.ws.Projects {
		pi, _ := s.ProjectInfo(p.ID)
		info.Projects = append(info.Projects, pi)
	}
	return info
}

// ProjectInfo summarizes one project, including the declared relationships
// it participates in (either direction).
func (s *Snapshot) ProjectInfo(id string) (ProjectInfo, bool) {
	p, ok := s.projects[id]
	if !ok {
		return ProjectInfo{}, false
	}
	info := ProjectInfo{
		ID:           p.ID,
		Name:         p.Name,
		Path:         p.Path,
		Type:         p.Type,
		Languages:    p.Languages,
		Dependencies: p.Dependencies,
		Enabled:      p.Indexing.Enabled,
		Priority:     string(p.Indexing.Priority),
		ExcludeGlobs: p.Indexing.ExcludeGlobs,
	}
	for _, r := range s.ws.Relationships {
		if r.From != id && r.To != id {
			continue
		}
		info.Relationships = append(info.Relationships, RelationshipInfo{
			From:        r.From,
			To:          r.To,
			Kind:        string(r.Kind),
			Weight:      r.Weight,
			Description: r.Description,
		})
	}
	return info, true
}
