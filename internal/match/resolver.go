package match

import (
	"sort"

	"mediadupfinder/internal/models"
)

// DistanceFunc measures how far apart two fingerprints are
type DistanceFunc func(a, b *models.Fingerprint) float64

// Resolve builds a duplicate group from a cluster. Members are ordered by
// modification time, oldest first, with ties broken by path; the first
// member is the one to keep. distance fills each member's distance to the
// keep file and may be nil.
func Resolve(kind models.Kind, cluster []*models.Fingerprint, distance DistanceFunc) *models.DuplicateGroup {
	sorted := make([]*models.Fingerprint, len(cluster))
	copy(sorted, cluster)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].File, sorted[j].File

		// Primary: mod time (older is the original)
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}

		// Fallback: path (alphabetical)
		return a.Path < b.Path
	})

	group := &models.DuplicateGroup{
		Kind:    kind,
		Members: make([]*models.Member, 0, len(sorted)),
	}
	if len(sorted) == 0 {
		return group
	}

	keep := sorted[0]
	group.Keep = keep.File.Path

	for i, fp := range sorted {
		summary := Summarize(fp)
		if i > 0 && distance != nil {
			summary.Distance = distance(keep, fp)
		}
		group.Members = append(group.Members, &models.Member{
			MediaFile: fp.File,
			Keep:      i == 0,
			Summary:   summary,
		})
	}
	return group
}

// SortGroups orders groups by keep path and numbers them from 1
func SortGroups(groups []*models.DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Keep < groups[j].Keep
	})
	for i, g := range groups {
		g.ID = i + 1
	}
}

// Summarize extracts the preview digest of a fingerprint
func Summarize(fp *models.Fingerprint) models.MemberSummary {
	var s models.MemberSummary
	switch {
	case fp.Image != nil:
		s.Hash = fp.Image.Hash.String()
		s.Width = fp.Image.Width
		s.Height = fp.Image.Height
		s.TakenAt = fp.Image.TakenAt
	case fp.Video != nil:
		s.Frames = len(fp.Video.Visual.Frames)
		s.Duration = fp.Video.Duration
		s.ThumbnailAt = fp.Video.ThumbnailAt
		s.HasAudio = fp.Video.Audio != nil
		if len(fp.Video.Visual.Frames) > 0 {
			s.Hash = fp.Video.Visual.Frames[0].Hash.String()
		}
	}
	return s
}
