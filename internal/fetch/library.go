package fetch

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Library is the local fallback clip collection, used when the footage
// provider has nothing for any keyword. Clips are tagged in a tags.json file
// mapping filename to tag list. Selection is deterministic: same keywords and
// same library state always pick the same clips.
type Library struct {
	dir  string
	tags map[string][]string

	mu   sync.Mutex
	used map[string]bool
}

// LoadLibrary reads the tag index. A missing index is not an error, it just
// means an empty library.
func LoadLibrary(dir, tagsPath string) (*Library, error) {
	lib := &Library{dir: dir, tags: map[string][]string{}, used: map[string]bool{}}

	data, err := os.ReadFile(tagsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[fetch] Warning: library tags not found at %s — fallback library is empty", tagsPath)
			return lib, nil
		}
		return nil, err
	}

	// The index may carry _instructions style keys; skip them.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse library tags: %w", err)
	}
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		var tags []string
		if err := json.Unmarshal(v, &tags); err != nil {
			continue
		}
		lib.tags[k] = tags
	}
	return lib, nil
}

// Empty reports whether the library holds no clips.
func (l *Library) Empty() bool { return len(l.tags) == 0 }

// Pick selects the clip whose tags best match the keyword's words. Ties break
// lexicographically by filename, which keeps the fallback reproducible. A
// clip already picked in this run is skipped until everything has been used,
// after which repetition restarts from the best match.
func (l *Library) Pick(keyword string) (string, error) {
	if l.Empty() {
		return "", fmt.Errorf("local asset library is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	type scored struct {
		file  string
		score int
	}
	rank := func(skipUsed bool) []scored {
		var out []scored
		for file, tags := range l.tags {
			if skipUsed && l.used[file] {
				continue
			}
			out = append(out, scored{file, matchScore(keyword, tags)})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].score != out[j].score {
				return out[i].score > out[j].score
			}
			return out[i].file < out[j].file
		})
		return out
	}

	candidates := rank(true)
	if len(candidates) == 0 {
		candidates = rank(false)
	}

	pick := candidates[0]
	l.used[pick.file] = true
	log.Printf("[fetch] Library fallback for %q: %s (score %d)", keyword, pick.file, pick.score)
	return filepath.Join(l.dir, pick.file), nil
}

// matchScore counts keyword words present in the clip's tag set.
func matchScore(keyword string, tags []string) int {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = true
	}
	score := 0
	for _, w := range strings.Fields(strings.ToLower(keyword)) {
		if tagSet[w] {
			score += 10
		}
	}
	return score
}
