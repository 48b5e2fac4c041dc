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

// TextDescriber recognizes the text of a document through an external text
// recognition service, resolving each call through the service call cache.
// The cache key hashes the exact bytes sent, so a changed crop is a new call
// while an identical re-run replays the stored response.
type TextDescriber struct {
	provider recognize.TextAnnotator
	resolver *cache.Resolver
	params   string
	log      zerolog.Logger
}

// NewTextDescriber creates the stage. params distinguishes cache entries
// made under different provider settings (language hints, processor); it
// must be stable across runs for the cache to hit.
func NewTextDescriber(provider recognize.TextAnnotator, resolver *cache.Resolver, params string) *TextDescriber {
	return &TextDescriber{
		provider: provider,
		resolver: resolver,
		params:   params,
		log:      logger.WithStage("stages", string(document.TagText)),
	}
}

// Tag implements pipeline.Stage.
func (s *TextDescriber) Tag() document.Tag { return document.TagText }

// Requires implements pipeline.Stage.
func (s *TextDescriber) Requires() []document.Tag { return []document.Tag{document.TagCrop} }

// Apply implements pipeline.Stage.
func (s *TextDescriber) Apply(ctx context.Context, task pipeline.Task) (*document.Payload, error) {
	data, dx, dy, err := sourceBytes(task)
	if err != nil {
		return nil, pipeline.MarkPermanent(err)
	}

	key := cache.Key{
		Service:     s.provider.Name() + "/text",
		ContentHash: cache.HashBytes(data),
		Params:      s.params,
	}
	entry, fromCache, err := s.resolver.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		res, err := s.provider.AnnotateText(ctx, data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return nil, classifyServiceError(err)
	}

	var res recognize.TextResult
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		return nil, pipeline.MarkPermanent(fmt.Errorf("decode stored text result: %w", err))
	}

	content := res.Content
	translateText(&content, dx, dy)

	s.log.Debug().
		Str("document", task.Input.ID).
		Str("provider", res.Provider).
		Bool("cached", fromCache).
		Int("chars", len(content.Full)).
		Float32("confidence", content.Confidence).
		Msg("Text recognition resolved")

	return &document.Payload{Text: &content}, nil
}

// translateText shifts every box in the content by (dx, dy), moving geometry
// from cropped-image coordinates back into the original frame.
func translateText(tc *document.TextContent, dx, dy int) {
	if dx == 0 && dy == 0 {
		return
	}
	for bi := range tc.Blocks {
		blk := &tc.Blocks[bi]
		blk.Box = blk.Box.Translate(dx, dy)
		for pi := range blk.Paragraphs {
			par := &blk.Paragraphs[pi]
			par.Box = par.Box.Translate(dx, dy)
			for li := range par.Lines {
				line := &par.Lines[li]
				line.Box = line.Box.Translate(dx, dy)
				for wi := range line.Words {
					line.Words[wi].Box = line.Words[wi].Box.Translate(dx, dy)
				}
			}
		}
	}
}
