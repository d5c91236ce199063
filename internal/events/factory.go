package events

import (
	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
)

// NewFromSettings builds a bus with every enabled sink. If a sink fails to
// start, the ones already created are closed and the error is returned.
func NewFromSettings(settings *conf.Settings, m *metrics.EventMetrics) (*Bus, error) {
	var sinks []Sink
	fail := func(err error) (*Bus, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	ev := settings.Events
	if ev.MQTT.Enabled {
		s, err := NewMQTTSink(ev.MQTT)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if ev.NATS.Enabled {
		s, err := NewNATSSink(ev.NATS)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if ev.Notify.Enabled {
		s, err := NewNotifySink(ev.Notify)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		GetLogger().Debug("no event sinks enabled")
	}
	return NewBus(DefaultConfig(), m, sinks...), nil
}

var (
	_ Sink = (*MQTTSink)(nil)
	_ Sink = (*NATSSink)(nil)
	_ Sink = (*NotifySink)(nil)
)
