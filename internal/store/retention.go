package store

import (
	"log"
	"os"
	"sort"

	"faceless-pipeline/internal/types"
)

// Sweep deletes every artifact beyond the retention cap, oldest first. An
// artifact in publishing status is never a deletion candidate; its status is
// re-checked under the manifest lock immediately before removal, so a publish
// that started after the candidate list was built still protects it. Running
// the sweep twice with no new artifacts is a no-op the second time.
func (s *Store) Sweep(keep int) ([]string, error) {
	if keep <= 0 {
		keep = 1
	}

	var removed []string
	err := s.withLock(func(m *manifest) error {
		if err := s.adoptUntracked(m); err != nil {
			return err
		}

		sort.Slice(m.Artifacts, func(i, j int) bool {
			return m.Artifacts[i].CreatedAt.After(m.Artifacts[j].CreatedAt)
		})

		var kept []types.OutputArtifact
		retained := 0
		for _, a := range m.Artifacts {
			if retained < keep {
				kept = append(kept, a)
				retained++
				continue
			}
			// Check-then-act on the status happens inside this same
			// lock hold, so a concurrent BeginPublish either landed
			// before (visible here) or blocks until we are done.
			if a.Publishing() {
				kept = append(kept, a)
				continue
			}
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				log.Printf("[retention] Warning: could not delete %s: %v", a.Path, err)
				kept = append(kept, a)
				continue
			}
			removed = append(removed, a.Path)
		}
		m.Artifacts = kept
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		log.Printf("[retention] Swept %d artifact(s) beyond cap %d", len(removed), keep)
	}
	return removed, nil
}
