package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sherlock/video"
)

// remoteScorer is a catalog model backed by the inference sidecar.
type remoteScorer struct {
	id            string
	displayName   string
	description   string
	inputSize     int
	preprocessing string
	weightsFile   string
	client        *InferenceClient
}

func (s *remoteScorer) ID() string     { return s.id }
func (s *remoteScorer) InputSize() int { return s.inputSize }

func (s *remoteScorer) ScoreBatch(ctx context.Context, frames []video.Frame) ([]Score, error) {
	if err := validateShape(frames, s.inputSize); err != nil {
		return nil, err
	}
	return s.client.Score(ctx, s.id, frames)
}

// Registry is the closed set of scorers resolved once at startup. Unknown
// identifiers are a typed error, never a runtime lookup surprise.
type Registry struct {
	scorers    map[string]*remoteScorer
	order      []string
	defaultID  string
	weightsDir string
}

// NewRegistry builds the scorer registry from the built-in model catalog.
// weightsDir is where model weight files live (mounted into the sidecar);
// a model is "available" when its weights file is present there.
func NewRegistry(client *InferenceClient, weightsDir, defaultID string) (*Registry, error) {
	catalog := []*remoteScorer{
		{
			id:            "xception",
			displayName:   "XceptionNet",
			description:   "High accuracy deepfake detection model",
			inputSize:     224,
			preprocessing: "imagenet",
			weightsFile:   "xception_deepfake_detector.pth",
		},
		{
			id:            "mesonet",
			displayName:   "MesoNet",
			description:   "Lightweight model for real-time inference",
			inputSize:     256,
			preprocessing: "custom",
			weightsFile:   "mesonet_deepfake_detector.pth",
		},
	}

	registry := &Registry{
		scorers:    make(map[string]*remoteScorer, len(catalog)),
		defaultID:  defaultID,
		weightsDir: weightsDir,
	}
	for _, scorer := range catalog {
		scorer.client = client
		registry.scorers[scorer.id] = scorer
		registry.order = append(registry.order, scorer.id)
	}

	if _, ok := registry.scorers[defaultID]; !ok {
		return nil, fmt.Errorf("default model %q: %w", defaultID, ErrUnknownModel)
	}

	return registry, nil
}

// DefaultID returns the configured default model identifier.
func (r *Registry) DefaultID() string { return r.defaultID }

// Resolve maps a model identifier to its scorer. Empty resolves to the
// default model.
func (r *Registry) Resolve(modelID string) (Scorer, error) {
	if modelID == "" {
		modelID = r.defaultID
	}
	scorer, ok := r.scorers[modelID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", modelID, ErrUnknownModel)
	}
	return scorer, nil
}

// InputSizeFor returns the frame edge length the given model expects,
// falling back to the default model's size for unknown identifiers so
// extraction can still run ahead of scorer resolution.
func (r *Registry) InputSizeFor(modelID string) int {
	if scorer, ok := r.scorers[modelID]; ok {
		return scorer.inputSize
	}
	return r.scorers[r.defaultID].inputSize
}

// Catalog lists all configured models with on-disk availability.
func (r *Registry) Catalog() []ModelInfo {
	infos := make([]ModelInfo, 0, len(r.scorers))
	for _, id := range r.order {
		scorer := r.scorers[id]
		_, err := os.Stat(filepath.Join(r.weightsDir, scorer.weightsFile))
		infos = append(infos, ModelInfo{
			Name:          scorer.id,
			DisplayName:   scorer.displayName,
			Description:   scorer.description,
			InputSize:     scorer.inputSize,
			Preprocessing: scorer.preprocessing,
			Available:     err == nil,
			Default:       scorer.id == r.defaultID,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Default && !infos[j].Default })
	return infos
}
