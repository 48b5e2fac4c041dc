package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
	"github.com/caltechlibrary/documentarist/internal/recognize"
)

// FigureDescriber localizes photographs, drawings and similar figures on the
// page through an object localization service, resolved through the service
// call cache the same way text recognition is.
type FigureDescriber struct {
	provider recognize.ObjectAnnotator
	resolver *cache.Resolver
	params   string
	log      zerolog.Logger
}

// NewFigureDescriber creates the stage. params distinguishes cache entries
// made under different provider settings and must be stable across runs.
func NewFigureDescriber(provider recognize.ObjectAnnotator, resolver *cache.Resolver, params string) *FigureDescriber {
	return &FigureDescriber{
		provider: provider,
		resolver: resolver,
		params:   params,
		log:      logger.WithStage("stages", string(document.TagFigures)),
	}
}

// Tag implements pipeline.Stage.
func (s *FigureDescriber) Tag() document.Tag { return document.TagFigures }

// Requires implements pipeline.Stage.
func (s *FigureDescriber) Requires() []document.Tag { return []document.Tag{document.TagCrop} }

// Apply implements pipeline.Stage.
func (s *FigureDescriber) Apply(ctx context.Context, task pipeline.Task) (*document.Payload, error) {
	data, dx, dy, err := sourceBytes(task)
	if err != nil {
		return nil, pipeline.MarkPermanent(err)
	}

	key := cache.Key{
		Service:     s.provider.Name() + "/objects",
		ContentHash: cache.HashBytes(data),
		Params:      s.params,
	}
	entry, fromCache, err := s.resolver.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		res, err := s.provider.AnnotateObjects(ctx, data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return nil, classifyServiceError(err)
	}

	var res recognize.ObjectResult
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		return nil, pipeline.MarkPermanent(fmt.Errorf("decode stored object result: %w", err))
	}

	figures := res.Objects
	for i := range figures {
		figures[i].Box = figures[i].Box.Translate(dx, dy)
	}

	s.log.Debug().
		Str("document", task.Input.ID).
		Str("provider", res.Provider).
		Bool("cached", fromCache).
		Int("figures", len(figures)).
		Msg("Figure localization resolved")

	return &document.Payload{Figures: figures}, nil
}
