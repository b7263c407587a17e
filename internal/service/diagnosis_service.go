package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/domain"
)

// Placeholder returned when no rule fires and the inconclusive policy is on.
const (
	InconclusiveDiagnosis = "diagnostic_incertain"
	InconclusiveScore     = 0.35
)

var inconclusiveExplanations = []string{
	"Les symptômes fournis sont insuffisants pour établir un diagnostic précis.",
	"Un état infectieux ou inflammatoire non spécifique est possible.",
	"Des symptômes supplémentaires sont recommandés pour affiner le diagnostic.",
}

const defaultTopK = 3

// DiagnosisService runs the filter -> infer -> rank -> explain pipeline on
// the current knowledge base snapshot.
type DiagnosisService struct {
	logger   *logrus.Logger
	provider domain.KnowledgeBaseProvider
	cache    domain.ResultCache
	config   domain.InferenceConfig
}

// NewDiagnosisService creates a new diagnosis service. cache may be nil.
func NewDiagnosisService(
	logger *logrus.Logger,
	provider domain.KnowledgeBaseProvider,
	cache domain.ResultCache,
	config domain.InferenceConfig,
) *DiagnosisService {
	if config.TopK <= 0 {
		config.TopK = defaultTopK
	}
	if config.ScorePrecision < 0 {
		config.ScorePrecision = 0
	}
	return &DiagnosisService{
		logger:   logger,
		provider: provider,
		cache:    cache,
		config:   config,
	}
}

// KnowledgeBase returns the snapshot new requests will be served from.
func (s *DiagnosisService) KnowledgeBase() *domain.KnowledgeBase {
	return s.provider.Current()
}

// Diagnose scores diagnoses for the requested symptoms.
//
// It returns domain.ErrEmptySymptomSet when no requested code is known, a
// *domain.ValidationError for malformed requests, domain.ErrInvalidMode
// for unsupported modes and domain.ErrNotLoaded before a knowledge base
// is available.
func (s *DiagnosisService) Diagnose(ctx context.Context, req *domain.DiagnosisRequest) (*domain.DiagnosisResponse, error) {
	if req == nil {
		return nil, domain.NewValidationError("request", "request is required", nil)
	}

	mode, err := s.resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}

	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}

	if mode == domain.ModeForward && len(req.Targets) > 0 {
		return nil, domain.NewValidationError("targets", "targets only apply to backward mode", req.Targets)
	}

	kb := s.provider.Current()
	if kb == nil {
		return nil, domain.ErrNotLoaded
	}

	valid, unknown := FilterUnknown(kb, domain.NewSymptomSet(req.Symptoms...))
	if valid.Len() == 0 {
		s.logger.WithFields(logrus.Fields{
			"requested": len(req.Symptoms),
			"unknown":   unknown.Sorted(),
		}).Info("Rejecting diagnosis request without known symptoms")
		return nil, fmt.Errorf("%w: %d code(s) given, none recognised", domain.ErrEmptySymptomSet, unknown.Len())
	}

	targets := normalizeTargets(req.Targets)
	key := cacheKey(kb.Fingerprint(), mode, valid.Sorted(), targets, topK)

	if cached, ok := s.lookup(ctx, key); ok {
		resp := *cached
		resp.UnknownSymptoms = unknown.Sorted()
		return &resp, nil
	}

	var result InferenceResult
	switch mode {
	case domain.ModeBackward:
		result = InferBackward(kb, valid, targets)
	default:
		result = InferForward(kb, valid)
	}

	resp := s.buildResponse(kb, mode, result, topK)
	resp.ValidSymptoms = valid.Sorted()
	resp.UnknownSymptoms = unknown.Sorted()

	s.logger.WithFields(logrus.Fields{
		"mode":          mode,
		"valid":         valid.Len(),
		"unknown":       unknown.Len(),
		"fired":         len(result.Scores),
		"results":       len(resp.Results),
		"inconclusive":  resp.Inconclusive,
		"knowledgebase": shortFingerprint(kb.Fingerprint()),
	}).Info("Diagnosis completed")

	s.store(ctx, key, resp)
	return resp, nil
}

func (s *DiagnosisService) resolveMode(mode domain.InferenceMode) (domain.InferenceMode, error) {
	if mode == "" {
		if s.config.DefaultMode == "" {
			return domain.ModeForward, nil
		}
		return domain.ParseInferenceMode(s.config.DefaultMode)
	}
	return domain.ParseInferenceMode(string(mode))
}

func (s *DiagnosisService) resolveTopK(topK int) (int, error) {
	switch {
	case topK < 0:
		return 0, domain.NewValidationError("top_k", "must be positive", topK)
	case topK == 0:
		return s.config.TopK, nil
	default:
		return topK, nil
	}
}

func (s *DiagnosisService) buildResponse(kb *domain.KnowledgeBase, mode domain.InferenceMode, result InferenceResult, topK int) *domain.DiagnosisResponse {
	resp := &domain.DiagnosisResponse{
		Mode:          mode,
		Results:       []domain.DiagnosisResult{},
		KnowledgeBase: kb.Fingerprint(),
	}

	for _, ranked := range TopK(result.Scores, topK) {
		trace := result.Traces[ranked.Diagnosis]

		explanations := make([]string, 0, len(trace))
		for _, m := range trace {
			explanations = append(explanations, m.Explanation)
		}

		entry := domain.DiagnosisResult{
			Diagnosis:    ranked.Diagnosis,
			Name:         ranked.Diagnosis,
			Score:        roundTo(ranked.Score, s.config.ScorePrecision),
			Explanations: explanations,
		}
		if meta, ok := kb.DiagnosisMeta(ranked.Diagnosis); ok {
			if meta.Name != "" {
				entry.Name = meta.Name
			}
			entry.Category = meta.Category
		}
		if s.config.IncludeMatches {
			entry.Matches = trace
		}
		resp.Results = append(resp.Results, entry)
	}

	if len(resp.Results) == 0 && s.config.InconclusivePlaceholder {
		resp.Inconclusive = true
		resp.Results = append(resp.Results, domain.DiagnosisResult{
			Diagnosis:    InconclusiveDiagnosis,
			Name:         "Diagnostic incertain",
			Score:        InconclusiveScore,
			Explanations: append([]string(nil), inconclusiveExplanations...),
		})
	}

	return resp
}

func (s *DiagnosisService) lookup(ctx context.Context, key string) (*domain.DiagnosisResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	resp, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).Warn("Result cache lookup failed, computing diagnosis")
		return nil, false
	}
	if ok {
		s.logger.WithField("cache_key", key[:12]).Debug("Diagnosis served from cache")
	}
	return resp, ok
}

func (s *DiagnosisService) store(ctx context.Context, key string, resp *domain.DiagnosisResponse) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, resp); err != nil {
		s.logger.WithError(err).Warn("Failed to cache diagnosis result")
	}
}

// normalizeTargets returns nil for "every diagnosis", otherwise the distinct
// targets in request order.
func normalizeTargets(targets []string) []string {
	if len(targets) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// cacheKey identifies a response by everything that determines it.
func cacheKey(fingerprint string, mode domain.InferenceMode, symptoms, targets []string, topK int) string {
	sortedTargets := append([]string(nil), targets...)
	sort.Strings(sortedTargets)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s",
		fingerprint, mode, topK,
		strings.Join(symptoms, ","), strings.Join(sortedTargets, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
