package events

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/privacy"
)

const defaultNotifyTimeout = 10 * time.Second

// sender is the part of the shoutrrr router the sink uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// NotifySink sends a human readable message through shoutrrr for every event
// that contains at least one violation. Other events are ignored.
type NotifySink struct {
	sender sender
}

// NewNotifySink builds a shoutrrr sender for the configured service URLs.
func NewNotifySink(cfg conf.NotifySettings) (*NotifySink, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification url is required").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = defaultNotifyTimeout
	router.SetLogger(log.New(io.Discard, "", 0))
	return &NotifySink{sender: router}, nil
}

// Name implements Sink.
func (s *NotifySink) Name() string { return "notify" }

// Publish implements Sink.
func (s *NotifySink) Publish(_ context.Context, ev *AnalysisEvent) error {
	if ev.Violations == 0 {
		return nil
	}
	params := stypes.Params{}
	params.SetTitle(NotificationTitle(ev))
	for _, err := range s.sender.Send(NotificationBody(ev), &params) {
		if err != nil {
			return errors.New(privacy.WrapError(err)).
				Component("events").
				Category(errors.CategoryIntegration).
				Context("id", ev.ID).
				Build()
		}
	}
	return nil
}

// Close implements Sink.
func (s *NotifySink) Close() error { return nil }

// NotificationTitle is the title used for violation notifications.
func NotificationTitle(ev *AnalysisEvent) string {
	noun := "violation"
	if ev.Violations != 1 {
		noun = "violations"
	}
	return fmt.Sprintf("EcoScout: %d %s detected", ev.Violations, noun)
}

// NotificationBody lists what was found.
func NotificationBody(ev *AnalysisEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", ev.OriginalFile)
	fmt.Fprintf(&b, "Record: %s\n", ev.ID)
	fmt.Fprintf(&b, "Detections: %d\n", ev.Detections)
	if len(ev.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(ev.Labels, ", "))
	}
	if len(ev.Plates) > 0 {
		fmt.Fprintf(&b, "Plates: %s\n", strings.Join(ev.Plates, ", "))
	}
	if ev.AnnotatedURL != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", ev.AnnotatedURL)
	}
	return strings.TrimRight(b.String(), "\n")
}
