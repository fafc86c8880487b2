// Package qualitysearch finds the highest quality parameter (most
// compression) that still clears a perceptual score target. It encodes short
// samples of the source at trial qualities, scores them against the
// original, and narrows the range with a bounded binary search. Missing the
// target is a flagged result, never an error.
package qualitysearch

import (
	"context"
	"log/slog"
	"sort"

	"telecine/internal/config"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
)

// Sample is one scored slice of the source.
type Sample struct {
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Trial records one quality probe.
type Trial struct {
	Quality int     `json:"quality"`
	Score   float64 `json:"score"`
}

// Result is the search outcome. TargetMet is false when no trial cleared
// the target; Quality and AchievedScore then report the least compressed
// quality actually tried, so the pair always comes from one real trial.
type Result struct {
	Quality       int      `json:"quality"`
	AchievedScore float64  `json:"achieved_score"`
	TargetMet     bool     `json:"target_met"`
	Iterations    int      `json:"iterations"`
	Samples       []Sample `json:"samples"`
	Trials        []Trial  `json:"trials"`
}

// SampleEncoder produces an encoded rendition of one sample at the given
// quality and returns its path.
type SampleEncoder interface {
	EncodeSample(ctx context.Context, input string, sample Sample, quality int) (string, error)
}

// Scorer computes the perceptual score of an encoded sample against the
// original source. Higher is better; 100 is visually lossless.
type Scorer interface {
	Score(ctx context.Context, reference string, distorted string, sample Sample) (float64, error)
}

// Search runs the adaptive quality pre-pass.
type Search struct {
	logger  *slog.Logger
	bus     *events.Bus
	encoder SampleEncoder
	scorer  Scorer
}

// New constructs a Search. Logger and bus may be nil.
func New(logger *slog.Logger, bus *events.Bus, encoder SampleEncoder, scorer Scorer) *Search {
	if logger == nil {
		logger = logging.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Search{
		logger:  logging.WithComponent(logger, "qualitysearch"),
		bus:     bus,
		encoder: encoder,
		scorer:  scorer,
	}
}

// PlanSamples spreads the sample windows evenly across the source, skipping
// the leading fraction so openings and studio cards do not skew the metric.
func PlanSamples(durationSeconds float64, opts config.QualitySearch) []Sample {
	count := opts.SampleCount
	if count < 1 {
		count = 1
	}
	sampleDur := opts.SampleDurationSeconds
	if sampleDur <= 0 {
		sampleDur = 10
	}
	head := durationSeconds * opts.SkipHeadFraction
	usable := durationSeconds - head - sampleDur
	if usable <= 0 {
		// Source too short to spread samples; take one from the start.
		dur := sampleDur
		if durationSeconds > 0 && dur > durationSeconds {
			dur = durationSeconds
		}
		return []Sample{{StartSeconds: 0, DurationSeconds: dur}}
	}
	samples := make([]Sample, 0, count)
	for i := 0; i < count; i++ {
		offset := 0.0
		if count > 1 {
			offset = usable * float64(i) / float64(count-1)
		} else {
			offset = usable / 2
		}
		samples = append(samples, Sample{StartSeconds: head + offset, DurationSeconds: sampleDur})
	}
	return samples
}

// FindOptimalQuality searches [MinQuality, MaxQuality] for the highest
// quality value whose mean sample score stays within tolerance of the
// target. Higher quality values mean more compression, so the search pushes
// up while the score holds and backs off when it drops.
func (s *Search) FindOptimalQuality(ctx context.Context, input string, durationSeconds float64, opts config.QualitySearch) (Result, error) {
	samples := PlanSamples(durationSeconds, opts)
	result := Result{Samples: samples}

	lo, hi := opts.MinQuality, opts.MaxQuality
	if lo > hi {
		return result, errkind.Wrap(errkind.ErrValidation, "qualitysearch", "search", "min quality exceeds max quality", nil)
	}
	maxIterations := opts.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}
	floor := opts.TargetScore - opts.Tolerance

	bestQuality := -1
	bestScore := 0.0
	lowestTried := -1
	var lowestScore float64

	for result.Iterations < maxIterations && lo <= hi {
		if err := ctx.Err(); err != nil {
			return result, errkind.Wrap(errkind.ErrTransient, "qualitysearch", "search", "search interrupted", err)
		}
		result.Iterations++
		quality := (lo + hi) / 2

		score, err := s.scoreQuality(ctx, input, samples, quality, result.Iterations)
		if err != nil {
			return result, err
		}
		result.Trials = append(result.Trials, Trial{Quality: quality, Score: score})
		s.logger.Info("quality probed",
			logging.Int("quality", quality),
			logging.Float64("score", score),
			logging.Int("iteration", result.Iterations))

		if lowestTried == -1 || quality < lowestTried {
			lowestTried = quality
			lowestScore = score
		}
		if score >= floor {
			if quality > bestQuality {
				bestQuality = quality
				bestScore = score
			}
			lo = quality + 1
		} else {
			hi = quality - 1
		}
	}

	if bestQuality >= 0 {
		result.Quality = bestQuality
		result.AchievedScore = bestScore
		result.TargetMet = true
		return result, nil
	}

	// Nothing met the target. Report the least compressed quality actually
	// tried together with its own score so the pair is self-consistent.
	result.TargetMet = false
	if lowestTried < 0 {
		result.Quality = opts.MinQuality
		return result, nil
	}
	result.Quality = lowestTried
	result.AchievedScore = lowestScore
	return result, nil
}

// scoreQuality encodes and scores every sample at one quality and returns
// the mean score.
func (s *Search) scoreQuality(ctx context.Context, input string, samples []Sample, quality, iteration int) (float64, error) {
	var total float64
	for i, sample := range samples {
		encoded, err := s.encoder.EncodeSample(ctx, input, sample, quality)
		if err != nil {
			return 0, err
		}
		score, err := s.scorer.Score(ctx, input, encoded, sample)
		if err != nil {
			return 0, err
		}
		total += score
		s.bus.Publish(events.Event{
			Kind: events.KindQualitySearchProgress,
			Search: &events.QualitySearchStep{
				Sample:       i + 1,
				TotalSamples: len(samples),
				Iteration:    iteration,
				Quality:      quality,
				Score:        score,
			},
		})
	}
	return total / float64(len(samples)), nil
}

// SortTrials orders trials by quality for presentation.
func SortTrials(trials []Trial) {
	sort.Slice(trials, func(a, b int) bool { return trials[a].Quality < trials[b].Quality })
}
