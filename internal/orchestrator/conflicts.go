package orchestrator

import (
	"sort"

	"github.com/ShayCichocki/herd/pkg/models"
)

// Conflict marks a file declared as a target by more than one task in
// the same run. Detection is advisory: conflicts are logged, not
// blocked, since dependency ordering can still make them safe.
type Conflict struct {
	// File is the contested target path.
	File string
	// TaskIDs are the tasks declaring it, sorted.
	TaskIDs []string
	// Ordered is true when every pair of contesting tasks is related by
	// a declared dependency, making the overlap safe.
	Ordered bool
}

// DetectConflicts computes the pairwise target-file overlaps across the
// task set.
func DetectConflicts(tasks []models.TaskSpec) []Conflict {
	byFile := make(map[string][]string)
	byID := make(map[string]models.TaskSpec, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		for _, f := range t.TargetFiles {
			byFile[f] = append(byFile[f], t.ID)
		}
	}

	var conflicts []Conflict
	for file, ids := range byFile {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		conflicts = append(conflicts, Conflict{
			File:    file,
			TaskIDs: ids,
			Ordered: allOrdered(ids, byID),
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].File < conflicts[j].File
	})
	return conflicts
}

// allOrdered reports whether every pair of tasks is related by a
// declared dependency in either direction.
func allOrdered(ids []string, byID map[string]models.TaskSpec) bool {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := byID[ids[i]], byID[ids[j]]
			if !a.DependsOnTask(b.ID) && !b.DependsOnTask(a.ID) {
				return false
			}
		}
	}
	return true
}
