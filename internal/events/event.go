// Package events publishes a summary of every completed analysis to external
// sinks without blocking the request that produced it.
package events

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/model"
)

// AnalysisEvent is the payload sent to every sink.
type AnalysisEvent struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	Media         model.MediaKind `json:"media"`
	OriginalFile  string          `json:"original_file"`
	AnnotatedURL  string          `json:"annotated_url,omitempty"`
	Detections    int             `json:"detections"`
	Violations    int             `json:"violations"`
	Labels        []string        `json:"labels"`
	Plates        []string        `json:"plates"`
	FrameCount    *int            `json:"frame_count,omitempty"`
	EvidenceCount int             `json:"evidence_frames,omitempty"`
}

// NewAnalysisEvent summarizes rec. Labels and plates are distinct and sorted.
func NewAnalysisEvent(rec *model.AnalysisRecord, violations model.ViolationSet) *AnalysisEvent {
	ev := &AnalysisEvent{
		ID:            rec.ID,
		Status:        rec.Status,
		Timestamp:     rec.CreatedAt.Time,
		Media:         rec.MediaKind(),
		OriginalFile:  rec.OriginalFile,
		AnnotatedURL:  rec.AnnotatedURL(),
		Detections:    len(rec.Detections),
		Violations:    rec.ViolationCount(violations),
		Labels:        []string{},
		Plates:        []string{},
		FrameCount:    rec.FrameCount,
		EvidenceCount: len(rec.EvidenceURLs()),
	}
	for i := range rec.Detections {
		d := &rec.Detections[i]
		if !slices.Contains(ev.Labels, d.ViolationType) {
			ev.Labels = append(ev.Labels, d.ViolationType)
		}
		if d.HasPlate() && !slices.Contains(ev.Plates, d.LicensePlate) {
			ev.Plates = append(ev.Plates, d.LicensePlate)
		}
	}
	slices.Sort(ev.Labels)
	slices.Sort(ev.Plates)
	return ev
}

// Payload is the JSON encoding of ev.
func (ev *AnalysisEvent) Payload() ([]byte, error) {
	return json.Marshal(ev)
}

// Sink delivers events to one external system.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Publish delivers ev. Sinks may ignore events that do not concern them.
	Publish(ctx context.Context, ev *AnalysisEvent) error
	Close() error
}
