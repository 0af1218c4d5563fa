package match

import (
	"math"

	"mediadupfinder/internal/audio"
	"mediadupfinder/internal/config"
	"mediadupfinder/internal/models"
)

// VideoMatcher clusters videos in two stages: transitive closure over the
// visual frame distance, then a split of each visual cluster into
// audio-compatible sub-clusters
type VideoMatcher struct {
	visualThreshold float64
	audioThreshold  float64
	visualMetric    string
	audioMetric     audio.Metric
}

// NewVideoMatcher creates a new VideoMatcher
func NewVideoMatcher(visualThreshold int, audioThreshold float64, visualMetric, audioMetric string) *VideoMatcher {
	return &VideoMatcher{
		visualThreshold: float64(visualThreshold),
		audioThreshold:  audioThreshold,
		visualMetric:    visualMetric,
		audioMetric:     audio.MetricFor(audioMetric),
	}
}

// FindClusters returns the audio-refined clusters of at least two videos
func (m *VideoMatcher) FindClusters(fps []*models.Fingerprint) [][]*models.Fingerprint {
	if len(fps) < 2 {
		return nil
	}

	var out [][]*models.Fingerprint
	for _, cluster := range m.visualClusters(fps) {
		out = append(out, m.refine(cluster)...)
	}
	return out
}

// visualClusters is stage one. The frame distance is not a metric, so every
// pair is compared.
func (m *VideoMatcher) visualClusters(fps []*models.Fingerprint) [][]*models.Fingerprint {
	uf := transitiveClosure(len(fps), func(i, j int) bool {
		return m.Distance(fps[i], fps[j]) <= m.visualThreshold
	})
	return collect(fps, uf)
}

// refine is stage two. Members with audio are clustered by audio distance.
// Members without audio join the sub-cluster of their visually nearest
// member with audio, so a silent file never bridges two sub-clusters. A
// cluster with no audio at all is kept whole.
func (m *VideoMatcher) refine(cluster []*models.Fingerprint) [][]*models.Fingerprint {
	var voiced, silent []int
	for i, fp := range cluster {
		if hasAudio(fp) {
			voiced = append(voiced, i)
		} else {
			silent = append(silent, i)
		}
	}
	if len(voiced) == 0 {
		return [][]*models.Fingerprint{cluster}
	}

	uf := newUnionFind(len(cluster))
	for a := 0; a < len(voiced); a++ {
		for b := a + 1; b < len(voiced); b++ {
			i, j := voiced[a], voiced[b]
			if m.audioMetric(cluster[i].Video.Audio.Vector, cluster[j].Video.Audio.Vector) <= m.audioThreshold {
				uf.union(i, j)
			}
		}
	}

	for _, s := range silent {
		nearest, best := -1, math.Inf(1)
		for _, v := range voiced {
			d := m.Distance(cluster[s], cluster[v])
			if nearest < 0 || d < best || (d == best && cluster[v].File.Path < cluster[nearest].File.Path) {
				nearest, best = v, d
			}
		}
		uf.union(nearest, s)
	}

	return collect(cluster, uf)
}

// Distance returns the visual distance between two videos
func (m *VideoMatcher) Distance(a, b *models.Fingerprint) float64 {
	if a.Video == nil || b.Video == nil {
		return math.Inf(1)
	}
	return VisualDistance(a.Video.Visual, b.Video.Visual, m.visualMetric)
}

func hasAudio(fp *models.Fingerprint) bool {
	return fp.Video != nil && fp.Video.Audio != nil && len(fp.Video.Audio.Vector) > 0
}

// VisualDistance aggregates per-frame Hamming distances into one score.
// best-match averages, in both directions, the distance from each frame to
// its closest frame in the other video. aligned averages same-index frame
// distances and falls back to best-match when frame counts differ.
func VisualDistance(a, b models.VideoVisualFingerprint, metric string) float64 {
	if len(a.Frames) == 0 || len(b.Frames) == 0 {
		return math.Inf(1)
	}

	if metric == config.VisualMetricAligned && len(a.Frames) == len(b.Frames) {
		var sum float64
		for i := range a.Frames {
			sum += float64(a.Frames[i].Hash.Distance(b.Frames[i].Hash))
		}
		return sum / float64(len(a.Frames))
	}

	return (bestMatch(a.Frames, b.Frames) + bestMatch(b.Frames, a.Frames)) / 2
}

func bestMatch(from, to []models.FrameHash) float64 {
	var sum float64
	for _, f := range from {
		best := math.MaxInt
		for _, t := range to {
			if d := f.Hash.Distance(t.Hash); d < best {
				best = d
			}
		}
		sum += float64(best)
	}
	return sum / float64(len(from))
}
