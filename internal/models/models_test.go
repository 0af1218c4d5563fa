package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestHash_Distance(t *testing.T) {
	tests := []struct {
		name string
		a, b Hash
		want int
	}{
		{"identical", Hash{0xff}, Hash{0xff}, 0},
		{"one bit", Hash{0b1000}, Hash{0}, 1},
		{"multi word", Hash{0, 0xf}, Hash{1, 0}, 5},
		{"length mismatch", Hash{0}, Hash{0, 0}, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Distance(tt.b); got != tt.want {
				t.Errorf("Distance() = %d, want %d", got, tt.want)
			}
			if got := tt.b.Distance(tt.a); got != tt.want {
				t.Errorf("Distance() not symmetric: %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHash_Text(t *testing.T) {
	h := Hash{0x0123456789abcdef, 1}
	text, err := h.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "0123456789abcdef0000000000000001" {
		t.Errorf("MarshalText() = %s", text)
	}

	var back Hash
	if err := back.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if back.Distance(h) != 0 || back.Bits() != 128 {
		t.Errorf("round trip gave %v", back)
	}

	if err := back.UnmarshalText([]byte("abc")); err == nil {
		t.Error("expected error for odd-length hex")
	}
	if err := back.UnmarshalText([]byte("abcd")); err == nil {
		t.Error("expected error for partial word")
	}
}

func TestKind_Text(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("Video")); err != nil || k != KindVideo {
		t.Errorf("UnmarshalText(Video) = %v, %v", k, err)
	}
	if err := k.UnmarshalText([]byte("audio")); err == nil {
		t.Error("expected error for unknown kind")
	}
	if Kind(7).String() != "unknown" {
		t.Errorf("String() = %s", Kind(7))
	}
}

func TestErrorKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("x.txt: %w", ErrUnsupported), ErrorUnsupported},
		{fmt.Errorf("probe: %w", ErrNoAudioTrack), ErrorNoAudio},
		{fmt.Errorf("ffmpeg: %w", context.DeadlineExceeded), ErrorTimeout},
		{fmt.Errorf("open: %w", fs.ErrPermission), ErrorUnreadable},
		{fmt.Errorf("jpeg: %w", ErrDecode), ErrorDecode},
		{errors.New("anything else"), ErrorDecode},
	}

	for _, tt := range tests {
		if got := ErrorKindOf(tt.err); got != tt.want {
			t.Errorf("ErrorKindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if NewFileError("a", ErrNoAudioTrack).Fatal() {
		t.Error("no_audio should not be fatal")
	}
	if !NewFileError("a", ErrDecode).Fatal() {
		t.Error("decode failure should be fatal")
	}
}

func testResult() (*ScanResult, *DuplicateGroup) {
	g1 := &DuplicateGroup{ID: 1, Keep: "/a", Members: []*Member{
		{MediaFile: MediaFile{Path: "/a", Size: 10}, Keep: true},
		{MediaFile: MediaFile{Path: "/b", Size: 20}},
		{MediaFile: MediaFile{Path: "/c", Size: 30}},
	}}
	g2 := &DuplicateGroup{ID: 2, Keep: "/x", Members: []*Member{
		{MediaFile: MediaFile{Path: "/x", Size: 5}, Keep: true},
		{MediaFile: MediaFile{Path: "/y", Size: 7}},
	}}
	return &ScanResult{Groups: []*DuplicateGroup{g1, g2}}, g1
}

func TestScanResult_Totals(t *testing.T) {
	r, g1 := testResult()

	if n := r.TotalDuplicates(); n != 3 {
		t.Errorf("TotalDuplicates() = %d, want 3", n)
	}
	if n := r.Reclaimable(); n != 57 {
		t.Errorf("Reclaimable() = %d, want 57", n)
	}
	if g1.KeepMember().Path != "/a" {
		t.Errorf("KeepMember() = %s", g1.KeepMember().Path)
	}

	g, m := r.FindMember("/y")
	if g == nil || m == nil || g.ID != 2 {
		t.Errorf("FindMember(/y) = %v, %v", g, m)
	}
	if g, m := r.FindMember("/nope"); g != nil || m != nil {
		t.Error("FindMember should miss unknown paths")
	}
}

func TestScanResult_RemoveMember(t *testing.T) {
	r, g1 := testResult()

	r.RemoveMember(g1, "/b")
	if len(g1.Members) != 2 || len(r.Groups) != 2 {
		t.Fatalf("after first removal: %d members, %d groups", len(g1.Members), len(r.Groups))
	}

	r.RemoveMember(g1, "/c")
	if len(r.Groups) != 1 || r.Groups[0].ID != 2 {
		t.Errorf("group with only the keep file left should be dropped, got %d groups", len(r.Groups))
	}
}

func TestScanResult_AddErrors(t *testing.T) {
	r := &ScanResult{
		TotalFiles: 2,
		Errors:     []FileError{{Path: "/m", Kind: ErrorDecode}},
	}
	r.AddErrors([]FileError{
		{Path: "/z", Kind: ErrorUnreadable},
		{Path: "/a", Kind: ErrorUnreadable},
		{Path: "/m", Kind: ErrorTimeout},
	})

	if r.TotalFiles != 5 {
		t.Errorf("TotalFiles = %d, want 5", r.TotalFiles)
	}
	want := []string{"/a", "/m", "/m", "/z"}
	for i, e := range r.Errors {
		if e.Path != want[i] {
			t.Errorf("Errors[%d] = %s, want %s", i, e.Path, want[i])
		}
	}
	if r.Errors[1].Kind != ErrorDecode || r.Errors[2].Kind != ErrorTimeout {
		t.Errorf("same-path errors should be ordered by kind: %v", r.Errors[1:3])
	}
}
