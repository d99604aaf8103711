package main

import (
	"net/http/httptest"
	"testing"
)

func TestValidateVideoUpload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filename string
		size     int64
		wantOK   bool
	}{
		{"mp4 accepted", "clip.mp4", 1024, true},
		{"uppercase extension accepted", "CLIP.MOV", 1024, true},
		{"webm accepted", "clip.webm", 1024, true},
		{"text rejected", "notes.txt", 1024, false},
		{"no extension rejected", "clip", 1024, false},
		{"empty file rejected", "clip.mp4", 0, false},
		{"oversized rejected", "clip.mp4", maxUploadBytes + 1, false},
		{"at the limit accepted", "clip.mp4", maxUploadBytes, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := validateVideoUpload(tc.filename, tc.size)
			if ok := msg == ""; ok != tc.wantOK {
				t.Fatalf("validateVideoUpload(%q, %d) = %q, want ok=%v", tc.filename, tc.size, msg, tc.wantOK)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		url        string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/api/v1/tasks", 10, 0},
		{"explicit values", "/api/v1/tasks?limit=25&offset=50", 25, 50},
		{"zero limit ignored", "/api/v1/tasks?limit=0", 10, 0},
		{"limit above cap ignored", "/api/v1/tasks?limit=500", 10, 0},
		{"negative offset ignored", "/api/v1/tasks?offset=-5", 10, 0},
		{"junk ignored", "/api/v1/tasks?limit=abc&offset=xyz", 10, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", tc.url, nil)
			limit, offset := parsePagination(r, 10)
			if limit != tc.wantLimit || offset != tc.wantOffset {
				t.Fatalf("parsePagination(%q) = (%d, %d), want (%d, %d)",
					tc.url, limit, offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}
