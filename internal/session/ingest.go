package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
)

// Ingest stores the text units of one subdivision unless it was stored
// before. It reports whether the section was created by this call.
func Ingest(ctx context.Context, repo entity.SectionRepository, bookID, href string, units []string) (entity.Section, bool, error) {
	section, created, err := repo.AddSection(ctx, bookID, href, units)
	if err != nil {
		return entity.Section{}, false, fmt.Errorf("ingest %s: %w", href, err)
	}
	return section, created, nil
}

func (s *Session) onElementsInSection(ctx context.Context, m bridge.ElementsInSection) error {
	section, created, err := Ingest(ctx, s.repo, s.bookID, m.Href, m.TextElements)
	if err != nil {
		return err
	}
	if created {
		s.logger.Debug("section ingested", "href", m.Href, "elements", len(m.TextElements))
	}

	if !s.machine.Loaded() || !s.translationActive() {
		return nil
	}
	return s.repushTranslations(ctx, section)
}

// repushTranslations sends replace commands for every translated element
// of section. The renderer re-extracts a subdivision each time it renders
// it and loses replaced text.
func (s *Session) repushTranslations(ctx context.Context, section entity.Section) error {
	elements, err := s.repo.TextElements(ctx, section.ID)
	if err != nil {
		return fmt.Errorf("load elements of %s: %w", section.Href, err)
	}
	for _, el := range elements {
		if !el.Translated {
			continue
		}
		s.inject(ctx, bridge.ReplaceTextElementScript(el.Plain(), el.Index))
	}
	return nil
}

// TranslateFrom returns the index translation should resume from when the
// reader is at current and the highest translated index is lastTranslated
// (0 when nothing is translated).
func TranslateFrom(current, lastTranslated int) int {
	if lastTranslated == 0 {
		return current
	}
	return min(current, lastTranslated)
}

func (s *Session) onCurrentElementIndex(ctx context.Context, m bridge.CurrentElementIndex) error {
	if s.currentHref == "" {
		s.logger.Debug("element index without a current section", "index", m.Index)
		return nil
	}
	section, err := s.repo.SectionByHref(ctx, s.bookID, s.currentHref)
	if errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find section %s: %w", s.currentHref, err)
	}

	last, err := s.repo.LastTranslatedIndex(ctx, section.ID)
	if err != nil {
		return fmt.Errorf("last translated index: %w", err)
	}
	from := TranslateFrom(m.Index, last)

	pending, err := s.repo.NotTranslatedFrom(ctx, section.ID, from)
	if err != nil {
		return fmt.Errorf("untranslated elements: %w", err)
	}
	if !s.translationActive() || len(pending) == 0 {
		return nil
	}

	s.logger.Info("translating section", "href", section.Href, "from", from, "elements", len(pending))
	s.pipeline.Start(ctx, pending)
	return nil
}

func (s *Session) translationActive() bool {
	return s.translation && s.pipeline != nil
}

func (s *Session) onTranslation(enabled bool) {
	if s.pipeline == nil {
		if enabled {
			s.logger.Warn("translation requested but no translator is configured")
		}
		return
	}
	s.translation = enabled
	if !enabled {
		s.pipeline.Cancel()
	}
}
