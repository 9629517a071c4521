package models

import (
	"strconv"
	"strings"
)

// SourceKind classifies a video source by how it behaves on read failure and pacing
type SourceKind string

const (
	SourceFile    SourceKind = "file"
	SourceCamera  SourceKind = "camera"
	SourceNetwork SourceKind = "network"
)

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	return string(k)
}

// IsLive reports whether frames arrive in real time. Live sources are never
// paced and never end on a single failed read.
func (k SourceKind) IsLive() bool {
	return k == SourceCamera || k == SourceNetwork
}

// SourceSpec describes the video source requested for a pipeline run
type SourceSpec struct {
	URI  string     `json:"uri" binding:"required"`
	Kind SourceKind `json:"kind,omitempty"`
}

// Resolve fills in Kind from the URI when it was not given: a bare integer is a
// local camera index, rtsp/http(s) URLs are network streams, anything else a file.
func (s SourceSpec) Resolve() SourceSpec {
	if s.Kind != "" {
		return s
	}
	uri := strings.TrimSpace(s.URI)
	switch {
	case isCameraIndex(uri):
		s.Kind = SourceCamera
	case strings.HasPrefix(uri, "rtsp://"), strings.HasPrefix(uri, "rtsps://"),
		strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		s.Kind = SourceNetwork
	default:
		s.Kind = SourceFile
	}
	s.URI = uri
	return s
}

// CameraIndex returns the device index for camera sources
func (s SourceSpec) CameraIndex() (int, bool) {
	if !isCameraIndex(s.URI) {
		return 0, false
	}
	idx, _ := strconv.Atoi(s.URI)
	return idx, true
}

func isCameraIndex(uri string) bool {
	if uri == "" {
		return false
	}
	n, err := strconv.Atoi(uri)
	return err == nil && n >= 0
}

// ProbeResult describes a source checked before a run
type ProbeResult struct {
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	Kind      SourceKind `json:"kind,omitempty"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	FPS       float64    `json:"fps,omitempty"`
	Thumbnail string     `json:"thumbnail,omitempty"`
	Error     string     `json:"error,omitempty"`
}
