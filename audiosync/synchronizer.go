// Package audiosync implements the AudioSynchronizer: an
// observational clock-tracker that maintains a PTS-to-wall-clock
// baseline, detects stream discontinuities, and advises a playback rate
// and video sync decisions from EMA-smoothed delay and drift. Grounded
// on this pipeline's PTS gap estimator in src/video.go (pktPtsInited,
// tbNum/tbDen, lastPktPTS), generalized from a one-shot drop counter to a
// continuously-running synchronizer.
package audiosync

import (
	"sync"
	"time"
)

const (
	delayDriftAlpha       = 0.1
	discontinuityPctRatio = 0.10
	discontinuityFloorUs  = 100_000
	driftLateThresholdMs  = 200.0
	driftRateUpMs         = 30.0
	driftRateDownMs       = -30.0
	rateStep              = 0.02
	rateMin               = 0.95
	rateMax               = 1.05

	videoSkipThresholdMs = -200.0
	videoWaitThresholdMs = 200.0

	driftHistoryCap = 50
)

// SyncDecision is returned by ProcessAudioPTS for each incoming packet.
type SyncDecision struct {
	ShouldPlay      bool
	IsDiscontinuity bool
	CurrentDelayMs  float64
	DriftMs         float64
	SuggestedRate   float64
}

// VideoSyncInfo is returned by GetVideoSyncInfo.
type VideoSyncInfo struct {
	OffsetMs           float64
	ShouldSkipVideo    bool
	ShouldWaitForAudio bool
}

// Synchronizer tracks audio PTS against wall-clock time and advises
// playback decisions. now is overridable for deterministic tests.
type Synchronizer struct {
	mu sync.Mutex

	sampleRate int

	haveBaseline   bool
	firstPTSUs     int64
	firstWallTime  time.Time
	lastPTSUs      int64
	lastAudioPTSUs int64

	estDelayMs   float64
	accumDriftMs float64
	driftHistory []float64

	suggestedRate float64

	discontinuityCount uint64

	now func() time.Time
}

// New creates a Synchronizer for the given audio sample rate.
func New(sampleRate int) *Synchronizer {
	return &Synchronizer{
		sampleRate:    sampleRate,
		suggestedRate: 1.0,
		now:           time.Now,
	}
}

// ProcessAudioPTS folds one audio packet's PTS into the tracker and
// returns the resulting playback decision.
func (s *Synchronizer) ProcessAudioPTS(ptsUs int64, sampleCount int) SyncDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	isDiscontinuity := false

	if !s.haveBaseline {
		s.seedBaselineLocked(ptsUs, now)
	} else {
		expectedDeltaUs := float64(sampleCount) / float64(s.sampleRate) * 1e6
		actualDeltaUs := float64(ptsUs - s.lastPTSUs)
		threshold := expectedDeltaUs * discontinuityPctRatio
		if threshold < discontinuityFloorUs {
			threshold = discontinuityFloorUs
		}

		if absF(actualDeltaUs-expectedDeltaUs) > threshold || ptsUs < s.lastPTSUs {
			isDiscontinuity = true
			s.discontinuityCount++
			s.seedBaselineLocked(ptsUs, now)
		}
	}

	s.lastPTSUs = ptsUs
	s.lastAudioPTSUs = ptsUs

	expectedArrival := s.firstWallTime.Add(time.Duration(ptsUs-s.firstPTSUs) * time.Microsecond)
	delayMs := now.Sub(expectedArrival).Seconds() * 1000.0

	s.estDelayMs = delayDriftAlpha*delayMs + (1-delayDriftAlpha)*s.estDelayMs
	s.accumDriftMs = delayDriftAlpha*delayMs + (1-delayDriftAlpha)*s.accumDriftMs
	s.pushDriftHistoryLocked(s.accumDriftMs)

	shouldPlay := true
	if absF(s.accumDriftMs) > driftLateThresholdMs {
		if s.accumDriftMs > 0 {
			shouldPlay = false // audio arrived too late; drop
		}
		// negative drift ("early"): sink-side buffering absorbs it.
	}

	switch {
	case s.accumDriftMs > driftRateUpMs:
		s.suggestedRate = clamp(1.0+rateStep, rateMin, rateMax)
	case s.accumDriftMs < driftRateDownMs:
		s.suggestedRate = clamp(1.0-rateStep, rateMin, rateMax)
	default:
		s.suggestedRate = 1.0
	}

	return SyncDecision{
		ShouldPlay:      shouldPlay,
		IsDiscontinuity: isDiscontinuity,
		CurrentDelayMs:  s.estDelayMs,
		DriftMs:         s.accumDriftMs,
		SuggestedRate:   s.suggestedRate,
	}
}

func (s *Synchronizer) seedBaselineLocked(ptsUs int64, wall time.Time) {
	s.haveBaseline = true
	s.firstPTSUs = ptsUs
	s.firstWallTime = wall
}

func (s *Synchronizer) pushDriftHistoryLocked(v float64) {
	s.driftHistory = append(s.driftHistory, v)
	if len(s.driftHistory) > driftHistoryCap {
		s.driftHistory = s.driftHistory[len(s.driftHistory)-driftHistoryCap:]
	}
}

// GetVideoSyncInfo compares the most recently observed audio PTS to a
// given video PTS (both in microseconds) and advises a video-side
// catch-up/wait decision.
func (s *Synchronizer) GetVideoSyncInfo(videoPTSUs int64) VideoSyncInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	offsetMs := float64(s.lastAudioPTSUs-videoPTSUs) / 1000.0
	return VideoSyncInfo{
		OffsetMs:           offsetMs,
		ShouldSkipVideo:    offsetMs < videoSkipThresholdMs,
		ShouldWaitForAudio: offsetMs > videoWaitThresholdMs,
	}
}

// DiscontinuityCount returns the number of discontinuities observed so far.
func (s *Synchronizer) DiscontinuityCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discontinuityCount
}

// Reset clears all tracked state, including the baseline.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveBaseline = false
	s.firstPTSUs = 0
	s.firstWallTime = time.Time{}
	s.lastPTSUs = 0
	s.lastAudioPTSUs = 0
	s.estDelayMs = 0
	s.accumDriftMs = 0
	s.driftHistory = nil
	s.suggestedRate = 1.0
	s.discontinuityCount = 0
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
