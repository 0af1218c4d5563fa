package match

import (
	"sort"

	"mediadupfinder/internal/config"
	"mediadupfinder/internal/models"
)

// Matcher is the interface for duplicate detection strategies. Clusters
// returned by a Matcher have at least two members and are disjoint.
type Matcher interface {
	FindClusters(fps []*models.Fingerprint) [][]*models.Fingerprint
}

var (
	_ Matcher = (*PerceptualMatcher)(nil)
	_ Matcher = (*VideoMatcher)(nil)
)

// collect turns union-find roots into clusters, dropping singletons.
// Clusters are returned in order of their first member.
func collect(fps []*models.Fingerprint, uf *unionFind) [][]*models.Fingerprint {
	index := make(map[int]int)
	var clusters [][]*models.Fingerprint

	for i, fp := range fps {
		root := uf.find(i)
		ci, ok := index[root]
		if !ok {
			ci = len(clusters)
			index[root] = ci
			clusters = append(clusters, nil)
		}
		clusters[ci] = append(clusters[ci], fp)
	}

	out := clusters[:0]
	for _, c := range clusters {
		if len(c) >= 2 {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Grouper turns a completed fingerprint collection into resolved duplicate
// groups. Images and videos are matched separately and never share a group.
type Grouper struct {
	images *PerceptualMatcher
	videos *VideoMatcher
}

// NewGrouper creates a Grouper from the scan configuration
func NewGrouper(cfg config.Config) *Grouper {
	return &Grouper{
		images: NewPerceptualMatcher(cfg.ImageHashThreshold),
		videos: NewVideoMatcher(cfg.VisualThreshold, cfg.AudioThreshold, cfg.VisualMetric, cfg.AudioMetric),
	}
}

// Group clusters fps and resolves every cluster. The result does not depend
// on the order of fps.
func (g *Grouper) Group(fps []*models.Fingerprint) []*models.DuplicateGroup {
	var images, videos []*models.Fingerprint
	for _, fp := range fps {
		switch {
		case fp == nil:
		case fp.Image != nil:
			images = append(images, fp)
		case fp.Video != nil:
			videos = append(videos, fp)
		}
	}
	sortByPath(images)
	sortByPath(videos)

	var groups []*models.DuplicateGroup
	for _, c := range g.images.FindClusters(images) {
		groups = append(groups, Resolve(models.KindImage, c, imageDistance))
	}
	for _, c := range g.videos.FindClusters(videos) {
		groups = append(groups, Resolve(models.KindVideo, c, g.videos.Distance))
	}

	SortGroups(groups)
	return groups
}

func imageDistance(a, b *models.Fingerprint) float64 {
	return float64(imageHash(a).Distance(imageHash(b)))
}

func sortByPath(fps []*models.Fingerprint) {
	sort.Slice(fps, func(i, j int) bool {
		return fps[i].File.Path < fps[j].File.Path
	})
}
