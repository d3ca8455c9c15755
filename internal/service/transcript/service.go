// Package transcript turns a call's recordings into cached transcripts and
// rates them.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/rating"
	"github.com/acme/softdialer/internal/speech"
	apperrors "github.com/acme/softdialer/pkg/errors"
	"github.com/acme/softdialer/pkg/logger"
)

const keyPrefix = "dialer:transcript:"

// RecordingLister lists the recordings of a provider call.
type RecordingLister interface {
	ListRecordings(ctx context.Context, callID string) ([]domain.Recording, error)
}

// Cache stores transcripts by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service builds transcripts for calls and rates them.
type Service struct {
	recordings  RecordingLister
	transcriber speech.Transcriber
	cache       Cache
	ttl         time.Duration
	rater       rating.Rater
	log         *logger.Logger
}

// NewService wires the transcript service. A nil cache disables caching.
func NewService(recordings RecordingLister, transcriber speech.Transcriber, cache Cache, ttl time.Duration, rater rating.Rater, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		recordings:  recordings,
		transcriber: transcriber,
		cache:       cache,
		ttl:         ttl,
		rater:       rater,
		log:         log,
	}
}

// ForCall returns one transcript per recording of the call, in provider order.
// A recognizer failure for one recording is reported in its text and not cached.
func (s *Service) ForCall(ctx context.Context, callID string) ([]domain.Transcript, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, fmt.Errorf("%w: call sid is required", apperrors.ErrMissingParameter)
	}
	recs, err := s.recordings.ListRecordings(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("transcript service: list recordings: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no recordings for call %s", apperrors.ErrNotFound, callID)
	}

	log := s.log.WithContext(ctx)
	out := make([]domain.Transcript, 0, len(recs))
	for _, rec := range recs {
		text, err := s.transcribe(ctx, rec.ID)
		if err != nil {
			log.Warn("transcription failed", zap.String("call_sid", callID), zap.String("recording_sid", rec.ID), zap.Error(err))
			text = "STT request failed: " + err.Error()
		}
		out = append(out, domain.Transcript{RecordingID: rec.ID, URL: rec.URL, Text: text})
	}
	return out, nil
}

func (s *Service) transcribe(ctx context.Context, recordingID string) (string, error) {
	key := keyPrefix + recordingID
	if s.cache != nil {
		if text, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.WithContext(ctx).Warn("transcript cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return text, nil
		}
	}

	text, err := s.transcriber.Transcribe(ctx, recordingID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, text, s.ttl); err != nil {
			s.log.WithContext(ctx).Warn("transcript cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return text, nil
}

// Rate scores a transcript from 1 to 10. A nil rating means the model gave
// no usable answer.
func (s *Service) Rate(ctx context.Context, transcript string) (*int, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("%w: transcript is required", apperrors.ErrMissingParameter)
	}
	score, err := s.rater.Rate(ctx, transcript)
	if err != nil {
		if errors.Is(err, apperrors.ErrMissingParameter) {
			return nil, err
		}
		return nil, fmt.Errorf("transcript service: rate: %w", err)
	}
	return score, nil
}
