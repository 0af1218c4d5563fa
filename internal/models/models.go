package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
	"time"
)

// Kind distinguishes the two fingerprinting strategies
type Kind int

const (
	KindImage Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "image":
		*k = KindImage
	case "video":
		*k = KindVideo
	default:
		return fmt.Errorf("unknown media kind %q", string(text))
	}
	return nil
}

// MediaFile is a candidate file as enumerated at scan time
type MediaFile struct {
	Path    string    `json:"path"`
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Hash is a perceptual hash bit vector packed into 64-bit words
type Hash []uint64

// Bits returns the width of the hash in bits
func (h Hash) Bits() int {
	return len(h) * 64
}

// Distance returns the Hamming distance to other. Words missing from the
// shorter hash count as fully different.
func (h Hash) Distance(other Hash) int {
	short, long := h, other
	if len(short) > len(long) {
		short, long = long, short
	}
	dist := 0
	for i := range short {
		dist += bits.OnesCount64(short[i] ^ long[i])
	}
	return dist + 64*(len(long)-len(short))
}

// String renders the hash as lowercase hex, most significant word first
func (h Hash) String() string {
	buf := make([]byte, 8*len(h))
	for i, w := range h {
		binary.BigEndian.PutUint64(buf[i*8:], w)
	}
	return hex.EncodeToString(buf)
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw)%8 != 0 {
		return fmt.Errorf("invalid hash length %d", len(raw))
	}
	out := make(Hash, len(raw)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	*h = out
	return nil
}

// ImageFingerprint is the average hash of a still image plus the metadata
// shown next to it in previews
type ImageFingerprint struct {
	Hash    Hash       `json:"hash"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Format  string     `json:"format"`
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

// FrameHash is the average hash of one sampled video frame
type FrameHash struct {
	Timestamp float64 `json:"ts"` // seconds from start
	Hash      Hash    `json:"hash"`
}

// VideoVisualFingerprint holds one hash per sampled frame in sampling order
type VideoVisualFingerprint struct {
	Frames []FrameHash `json:"frames"`
}

// AudioFingerprint is an MFCC summary vector (per-coefficient mean then std)
type AudioFingerprint struct {
	Vector  []float64 `json:"vector"`
	Seconds float64   `json:"seconds"` // audio actually analysed
}

// VideoFingerprint combines the visual and audio fingerprints of one video.
// Audio is nil when the file has no usable audio track.
type VideoFingerprint struct {
	Duration    float64                `json:"duration"`
	Visual      VideoVisualFingerprint `json:"visual"`
	Audio       *AudioFingerprint      `json:"audio,omitempty"`
	AudioNote   string                 `json:"audio_note,omitempty"`
	ThumbnailAt float64                `json:"thumbnail_at"`
	Thumbnail   []byte                 `json:"thumbnail,omitempty"` // JPEG
}

// Fingerprint is the tagged result of fingerprinting one file: exactly one
// of Image or Video is set, matching File.Kind.
type Fingerprint struct {
	File  MediaFile         `json:"file"`
	Image *ImageFingerprint `json:"image,omitempty"`
	Video *VideoFingerprint `json:"video,omitempty"`
}

// MemberSummary is the per-member fingerprint digest rendered by previews
type MemberSummary struct {
	Hash        string     `json:"hash,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"` // EXIF capture date
	Frames      int        `json:"frames,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	ThumbnailAt float64    `json:"thumbnail_at,omitempty"`
	HasAudio    bool       `json:"has_audio,omitempty"`
	Distance    float64    `json:"distance"` // visual distance to the keep file
}

// Member is one file inside a duplicate group
type Member struct {
	MediaFile
	Keep    bool          `json:"keep"`
	Summary MemberSummary `json:"summary"`
}

// DuplicateGroup represents files judged to be copies of the same content.
// Members are ordered oldest first; the first member is the one to keep.
type DuplicateGroup struct {
	ID      int       `json:"id"`
	Kind    Kind      `json:"kind"`
	Members []*Member `json:"members"`
	Keep    string    `json:"keep"`
}

// KeepMember returns the member designated to be preserved
func (g *DuplicateGroup) KeepMember() *Member {
	for _, m := range g.Members {
		if m.Keep {
			return m
		}
	}
	return nil
}

// Candidates returns the members recommended for deletion
func (g *DuplicateGroup) Candidates() []*Member {
	out := make([]*Member, 0, len(g.Members))
	for _, m := range g.Members {
		if !m.Keep {
			out = append(out, m)
		}
	}
	return out
}

// Reclaimable returns the bytes freed by removing every candidate
func (g *DuplicateGroup) Reclaimable() int64 {
	var total int64
	for _, m := range g.Candidates() {
		total += m.Size
	}
	return total
}

// ScanResult is the complete output of one scan
type ScanResult struct {
	ID            string            `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`
	TotalFiles    int               `json:"total_files"`
	Fingerprinted int               `json:"fingerprinted"`
	Groups        []*DuplicateGroup `json:"groups"`
	Errors        []FileError       `json:"errors"`

	// Thumbnails holds the JPEG chosen while fingerprinting each grouped
	// video, keyed by path. Reports loaded from disk have none.
	Thumbnails map[string][]byte `json:"-"`
}

// TotalDuplicates counts deletion candidates across all groups
func (r *ScanResult) TotalDuplicates() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Candidates())
	}
	return n
}

// Reclaimable sums reclaimable bytes across all groups
func (r *ScanResult) Reclaimable() int64 {
	var total int64
	for _, g := range r.Groups {
		total += g.Reclaimable()
	}
	return total
}

// FindMember looks a path up across all groups
func (r *ScanResult) FindMember(path string) (*DuplicateGroup, *Member) {
	for _, g := range r.Groups {
		for _, m := range g.Members {
			if m.Path == path {
				return g, m
			}
		}
	}
	return nil, nil
}

// AddErrors merges errors found outside the engine, such as files the
// directory walk could not stat, into r
func (r *ScanResult) AddErrors(errs []FileError) {
	if len(errs) == 0 {
		return
	}
	r.Errors = append(r.Errors, errs...)
	SortFileErrors(r.Errors)
	r.TotalFiles += len(errs)
}

// RemoveMember drops path from g, and drops g from r once only the keep
// file is left
func (r *ScanResult) RemoveMember(g *DuplicateGroup, path string) {
	members := g.Members[:0]
	for _, m := range g.Members {
		if m.Path != path {
			members = append(members, m)
		}
	}
	g.Members = members
	delete(r.Thumbnails, path)
	if len(g.Members) >= 2 {
		return
	}

	groups := r.Groups[:0]
	for _, other := range r.Groups {
		if other != g {
			groups = append(groups, other)
		}
	}
	r.Groups = groups
}
