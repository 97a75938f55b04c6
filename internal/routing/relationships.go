package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	id "careverify/pkg/domain"
)

// relationshipsFile is the on-disk layout:
//
//	relationships:
//	  - hospital: 7d1c...
//	    insurers: [a3f0..., 19be...]
type relationshipsFile struct {
	Relationships []struct {
		Hospital string   `yaml:"hospital"`
		Insurers []string `yaml:"insurers"`
	} `yaml:"relationships"`
}

// StaticRelationships is a fixed relationship table loaded at startup.
type StaticRelationships struct {
	byHospital map[id.OrgID][]id.OrgID
}

// LoadRelationshipsFile reads a YAML relationship table from path.
func LoadRelationshipsFile(path string) (*StaticRelationships, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open relationships file: %w", err)
	}
	defer f.Close()
	return ParseRelationships(f)
}

// ParseRelationships decodes a YAML relationship table. Unknown keys are rejected.
func ParseRelationships(r io.Reader) (*StaticRelationships, error) {
	var raw relationshipsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}

	out := &StaticRelationships{byHospital: make(map[id.OrgID][]id.OrgID)}
	for i, entry := range raw.Relationships {
		hospital, err := id.ParseOrgID(entry.Hospital)
		if err != nil {
			return nil, fmt.Errorf("relationships[%d].hospital: %w", i, err)
		}
		for j, rawInsurer := range entry.Insurers {
			insurer, err := id.ParseOrgID(rawInsurer)
			if err != nil {
				return nil, fmt.Errorf("relationships[%d].insurers[%d]: %w", i, j, err)
			}
			out.add(hospital, insurer)
		}
	}
	for hospital := range out.byHospital {
		insurers := out.byHospital[hospital]
		sort.Slice(insurers, func(a, b int) bool {
			ua, ub := uuid.UUID(insurers[a]), uuid.UUID(insurers[b])
			return bytes.Compare(ua[:], ub[:]) < 0
		})
	}
	return out, nil
}

func (s *StaticRelationships) add(hospital, insurer id.OrgID) {
	for _, existing := range s.byHospital[hospital] {
		if existing == insurer {
			return
		}
	}
	s.byHospital[hospital] = append(s.byHospital[hospital], insurer)
}

func (s *StaticRelationships) RelatedInsurers(_ context.Context, hospitalID id.OrgID) ([]id.OrgID, error) {
	return append([]id.OrgID(nil), s.byHospital[hospitalID]...), nil
}

// Union merges several relationship sources. The first error wins.
type Union []Relationships

func (u Union) RelatedInsurers(ctx context.Context, hospitalID id.OrgID) ([]id.OrgID, error) {
	seen := make(map[id.OrgID]struct{})
	var out []id.OrgID
	for _, src := range u {
		related, err := src.RelatedInsurers(ctx, hospitalID)
		if err != nil {
			return nil, err
		}
		for _, insurer := range related {
			if _, dup := seen[insurer]; dup {
				continue
			}
			seen[insurer] = struct{}{}
			out = append(out, insurer)
		}
	}
	return out, nil
}
