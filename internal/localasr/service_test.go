package localasr

import (
	"context"
	"testing"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/config"
)

func newTestService(cfg config.LocalASRConfig) *Service {
	captureCfg := config.CaptureConfig{SampleRate: 16000, Channels: 1}
	return NewService(context.Background(), cfg, captureCfg, nil, NewMockRecognizer())
}

func TestDisabledServiceIsInert(t *testing.T) {
	s := newTestService(config.LocalASRConfig{Enabled: false})
	if err := s.Start(); err != nil {
		t.Fatalf("disabled start must be a no-op: %v", err)
	}
	if !s.Healthy() {
		t.Fatal("disabled service reports healthy")
	}
	s.Close()
}

func TestShouldSchedulePartialThrottles(t *testing.T) {
	s := newTestService(config.LocalASRConfig{Enabled: true, PartialEveryMS: 800, PublishInterim: true})
	s.sessions["s1"] = &sessionState{}

	if !s.shouldSchedulePartial("s1") {
		t.Fatal("first partial must be scheduled")
	}
	if s.shouldSchedulePartial("s1") {
		t.Fatal("partial inside the interval must be throttled")
	}

	s.sessions["s1"].LastPartial = time.Now().Add(-time.Second)
	if !s.shouldSchedulePartial("s1") {
		t.Fatal("partial after the interval must be scheduled")
	}
}

func TestShouldSchedulePartialSkipsInflight(t *testing.T) {
	s := newTestService(config.LocalASRConfig{Enabled: true, PartialEveryMS: 800, PublishInterim: true})
	s.sessions["s1"] = &sessionState{Inflight: true}

	if s.shouldSchedulePartial("s1") {
		t.Fatal("inflight transcription must block new partials")
	}
	if s.shouldSchedulePartial("unknown") {
		t.Fatal("unknown sessions have nothing to schedule")
	}
}
