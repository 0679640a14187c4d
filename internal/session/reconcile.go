package session

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
)

func (s *Session) book(ctx context.Context) (entity.Book, error) {
	book, err := s.repo.Book(ctx, s.bookID)
	if err != nil {
		return entity.Book{}, fmt.Errorf("load book: %w", err)
	}
	return book, nil
}

func (s *Session) onReady(ctx context.Context) error {
	script, err := bridge.ApplySettingsScript(s.settings)
	if err != nil {
		return fmt.Errorf("push settings: %w", err)
	}
	s.inject(ctx, script)
	return nil
}

// onLocationsReady stores the renderer's manifest the first time it is
// produced and forces a location event.
func (s *Session) onLocationsReady(ctx context.Context, m bridge.LocationsReady) error {
	if len(m.Toc) > 0 {
		s.toc = m.Toc
	}

	book, err := s.book(ctx)
	if err != nil {
		return err
	}
	if !book.HasInitialLocations() {
		stored, err := s.repo.ChangeInitialLocations(ctx, s.bookID, m.Locations)
		if err != nil {
			return fmt.Errorf("store initial locations: %w", err)
		}
		if stored {
			s.logger.Info("stored initial locations")
		}
	}

	if book.CfiLocation != "" {
		s.send(ctx, bridge.GoToLocation{Cfi: book.CfiLocation})
		return nil
	}
	s.send(ctx, bridge.GoNext{})
	s.send(ctx, bridge.GoPrevious{})
	return nil
}

func (s *Session) onLocationChange(ctx context.Context, m bridge.LocationChange) error {
	switch s.machine.Phase() {
	case Paginating:
		if m.TotalLocations == 0 || s.machine.SectionsRequested() {
			return nil
		}
		book, err := s.book(ctx)
		if err != nil {
			return err
		}
		if book.HasInitialLocations() && len(book.SectionsPercentages) > 0 {
			s.finishLoading(ctx, book)
			return nil
		}
		s.requestSections(ctx)
		return nil

	case Loaded:
		s.currentHref = m.Start.Href
		if m.Start.Location == 0 {
			return nil
		}
		s.inject(ctx, bridge.FindCurrentElementIndexScript())
		if err := s.repo.ChangeCfiLocation(ctx, s.bookID, m.Start.Cfi); err != nil {
			return fmt.Errorf("store location: %w", err)
		}
		return nil

	default:
		s.logger.Debug("location change while repaginating", "cfi", m.Start.Cfi)
		return nil
	}
}

func (s *Session) onUpdateSections(ctx context.Context, m bridge.UpdateSections) error {
	if m.IsLoading {
		if s.machine.BeginRepagination() {
			s.logger.Info("renderer repaginating", "phase", s.machine.Phase().String())
		}
		return nil
	}

	if s.machine.Loaded() {
		s.logger.Debug("stale section pagination", "total_pages", m.TotalPages)
		return nil
	}
	if !s.machine.AnswerSections() {
		s.logger.Debug("superseded section pagination",
			"total_pages", m.TotalPages, "pending", s.machine.Pending())
		return nil
	}
	return s.applyPagination(ctx, m)
}

// applyPagination persists a new pagination and rescales the current page
// onto it, then finishes loading.
func (s *Session) applyPagination(ctx context.Context, m bridge.UpdateSections) error {
	book, err := s.book(ctx)
	if err != nil {
		return err
	}

	// The renderer is always released, even if the writes below fail.
	defer s.finishLoading(ctx, book)

	if err := s.repo.ChangeSectionsPercentages(ctx, s.bookID, m.SectionsPercentages); err != nil {
		return fmt.Errorf("store sections percentages: %w", err)
	}

	page := RescalePage(book.Page, book.TotalPages, m.TotalPages)
	if err := s.repo.ChangePagination(ctx, s.bookID, m.TotalPages, page, entity.ProgressOf(page, m.TotalPages)); err != nil {
		return fmt.Errorf("store pagination: %w", err)
	}
	s.logger.Info("pagination applied",
		"total_pages", m.TotalPages, "page", page, "previous_total", book.TotalPages)
	return nil
}

// RescalePage maps page from a pagination of oldTotal pages onto one of
// newTotal pages, rounding to the nearest page and clamping.
func RescalePage(page, oldTotal, newTotal int) int {
	if oldTotal <= 0 {
		return 0
	}
	scaled := int(math.Round(float64(page) * float64(newTotal) / float64(oldTotal)))
	return entity.ClampPage(scaled, newTotal)
}

func (s *Session) finishLoading(ctx context.Context, book entity.Book) {
	// The renderer does not always land on the restored location by itself,
	// so it is sent there again.
	s.send(ctx, bridge.GoToLocation{Cfi: book.StartLocation()})
	if s.machine.FinishLoading() {
		s.logger.Info("document loaded", "cfi", book.StartLocation())
	}
}

func (s *Session) requestSections(ctx context.Context) {
	s.machine.RequestSections()
	s.inject(ctx, bridge.UpdateSectionsScript(s.toc))
}

func (s *Session) onChangeLocationCfi(ctx context.Context, m bridge.ChangeLocationCfi) error {
	if !s.machine.Loaded() {
		s.logger.Debug("navigation request out of phase", "phase", s.machine.Phase().String(), "cfi", m.Cfi)
		return nil
	}
	s.navigate(ctx, bridge.GoToLocation{Cfi: m.Cfi})
	return nil
}

// navigate moves the renderer to another location. Replace commands carry
// only an element index and apply to whatever section is displayed, so the
// active run is cancelled before the move; the next CurrentElementIndex
// starts a run for the new location.
func (s *Session) navigate(ctx context.Context, cmd bridge.Command) {
	if s.pipeline != nil {
		s.pipeline.Cancel()
	}
	s.send(ctx, cmd)
}

// onSettings pushes settings to the renderer and re-requests section
// pagination, since every settings change relayouts the document.
func (s *Session) onSettings(ctx context.Context, settings bridge.Settings) error {
	script, err := bridge.ApplySettingsScript(settings)
	if err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	s.settings = settings
	s.inject(ctx, script)

	switch s.machine.Phase() {
	case Loaded:
		s.machine.BeginRepagination()
		s.requestSections(ctx)
	default:
		if s.machine.SectionsRequested() {
			s.requestSections(ctx)
		}
	}
	return nil
}

func (s *Session) onPageTurn(ctx context.Context, dir Direction) error {
	if !s.machine.Loaded() {
		s.logger.Debug("page turn out of phase", "phase", s.machine.Phase().String())
		return nil
	}
	book, err := s.book(ctx)
	if err != nil {
		return err
	}

	page := book.Page
	switch dir {
	case Prev:
		if page == 0 {
			return nil
		}
		page--
		s.navigate(ctx, bridge.GoPrevious{})
	default:
		if page >= book.TotalPages {
			return nil
		}
		page++
		s.navigate(ctx, bridge.GoNext{})
	}
	return s.storePage(ctx, page, book.TotalPages)
}

func (s *Session) onSeek(ctx context.Context, page int) error {
	if !s.machine.Loaded() {
		s.logger.Debug("seek out of phase", "phase", s.machine.Phase().String())
		return nil
	}
	book, err := s.book(ctx)
	if err != nil {
		return err
	}
	return s.storePage(ctx, entity.ClampPage(page, book.TotalPages), book.TotalPages)
}

func (s *Session) storePage(ctx context.Context, page, total int) error {
	if err := s.repo.ChangeCurrentPage(ctx, s.bookID, page, entity.ProgressOf(page, total)); err != nil {
		return fmt.Errorf("store page: %w", err)
	}
	return nil
}
