package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	types "github.com/docmesh/graphrag-backend/internal/domain"
)

type rawEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type rawRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type rawExtraction struct {
	Entities      []rawEntity       `json:"entities"`
	Relationships []rawRelationship `json:"relationships"`
}

// ParseExtraction validates a model response against the extraction contract.
// It strips markdown fences and applies local JSON repair before giving up;
// callers handle re-prompting.
func ParseExtraction(raw string, chunkID string) (*Extraction, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("empty extraction response")
	}

	var parsed rawExtraction
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		repaired := repairJSON(text)
		if rErr := json.Unmarshal([]byte(repaired), &parsed); rErr != nil {
			return nil, fmt.Errorf("extraction response is not valid JSON: %w", err)
		}
	}

	out := &Extraction{}
	seen := map[string]struct{}{}
	for _, e := range parsed.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("entity with empty name")
		}
		if _, dup := seen[types.NormalizeEntityName(name)]; dup {
			continue
		}
		seen[types.NormalizeEntityName(name)] = struct{}{}
		out.Entities = append(out.Entities, &types.Entity{
			Name:        name,
			Type:        strings.TrimSpace(e.Type),
			Description: strings.TrimSpace(e.Description),
		})
	}
	for _, r := range parsed.Relationships {
		src := strings.TrimSpace(r.Source)
		dst := strings.TrimSpace(r.Target)
		if src == "" || dst == "" {
			return nil, fmt.Errorf("relationship with empty endpoint")
		}
		out.Relationships = append(out.Relationships, &types.Relationship{
			Source:  src,
			Target:  dst,
			Type:    strings.TrimSpace(r.Type),
			ChunkID: chunkID,
		})
	}
	return out, nil
}

func stripFences(s string) string {
	text := strings.TrimSpace(s)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// repairJSON fixes the most common malformation seen in model output:
// a missing opening quote before an object key, e.g. `, type":` -> `, "type":`.
func repairJSON(s string) string {
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+64)

	i := 0
	for i < len(result) {
		ch := result[i]

		if ch == '{' || ch == ',' {
			fixed = append(fixed, ch)
			i++

			for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
				fixed = append(fixed, result[i])
				i++
			}

			if i < len(result) && result[i] != '"' && isLetter(result[i]) {
				keyStart := i
				for i < len(result) && (isLetter(result[i]) || result[i] == '_' || result[i] == ' ') {
					i++
				}

				// Followed by `":` means the opening quote is missing.
				if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
					fixed = append(fixed, '"')
					fixed = append(fixed, result[keyStart:i]...)
					continue
				}
				fixed = append(fixed, result[keyStart:i]...)
			}
		} else {
			fixed = append(fixed, ch)
			i++
		}
	}

	return string(fixed)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// MergeExtractions merges per-chunk results document-wide: entities merge by
// normalized name (last write wins on type/description), relationships union.
func MergeExtractions(results []*Extraction) ([]*types.Entity, []*types.Relationship) {
	byName := map[string]*types.Entity{}
	var order []string
	var rels []*types.Relationship

	for _, ex := range results {
		if ex == nil {
			continue
		}
		for _, e := range ex.Entities {
			key := types.NormalizeEntityName(e.Name)
			if existing, ok := byName[key]; ok {
				if e.Type != "" {
					existing.Type = e.Type
				}
				if e.Description != "" {
					existing.Description = e.Description
				}
				continue
			}
			clone := *e
			byName[key] = &clone
			order = append(order, key)
		}
		rels = append(rels, ex.Relationships...)
	}

	entities := make([]*types.Entity, 0, len(order))
	for _, key := range order {
		entities = append(entities, byName[key])
	}
	return entities, rels
}
