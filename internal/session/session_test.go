package session

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/entity"
	"github.com/roach88/lectern/internal/store"
	"github.com/roach88/lectern/internal/testutil"
	"github.com/roach88/lectern/internal/translate"
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Store
	rec     *bridge.Recorder
	session *Session
	book    entity.Book
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "lectern.db"), store.WithIDGenerator(entity.NewFixedGenerator("id")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	book, err := st.CreateBook(ctx, "file:///books/dune.epub", "Dune")
	require.NoError(t, err)

	rec := bridge.NewRecorder()
	return &harness{
		t:       t,
		ctx:     ctx,
		store:   st,
		rec:     rec,
		session: New(book.ID, st, rec, opts...),
		book:    book,
	}
}

func (h *harness) deliver(msgs ...bridge.Message) {
	h.t.Helper()
	for _, m := range msgs {
		require.NoError(h.t, h.session.Handle(h.ctx, Event{Type: EventTypeMessage, Message: m}))
	}
}

func (h *harness) handle(e Event) {
	h.t.Helper()
	require.NoError(h.t, h.session.Handle(h.ctx, e))
}

func (h *harness) reload() entity.Book {
	h.t.Helper()
	book, err := h.store.Book(h.ctx, h.book.ID)
	require.NoError(h.t, err)
	return book
}

// loaded drives the session to Loaded with a pagination of total pages.
func (h *harness) loaded(total int) {
	h.t.Helper()
	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.5}, TotalPages: total})
	require.Equal(h.t, Loaded, h.session.Phase())
	h.rec.Reset()
}

func (h *harness) lastCommand() bridge.Command {
	h.t.Helper()
	cmds := h.rec.Commands()
	require.NotEmpty(h.t, cmds)
	return cmds[len(cmds)-1]
}

func locationAt(cfi string, location int, href string) bridge.LocationChange {
	return bridge.LocationChange{
		TotalLocations: 300,
		Start:          bridge.Location{Cfi: cfi, Location: location, Href: href},
	}
}

func TestSession_StartsPaginating(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, Paginating, h.session.Phase())
}

func TestSession_FirstOpenRequestsSections(t *testing.T) {
	h := newHarness(t)

	h.deliver(locationAt("c0", 0, "ch1.xhtml"))
	assert.Len(t, h.rec.Scripts(bridge.ScriptUpdateSections), 1)
	assert.True(t, h.session.machine.SectionsRequested())

	h.deliver(locationAt("c0", 0, "ch1.xhtml"))
	assert.Len(t, h.rec.Scripts(bridge.ScriptUpdateSections), 1, "requested once")
	assert.Equal(t, Paginating, h.session.Phase())
	assert.Empty(t, h.reload().CfiLocation, "no location writes before loaded")
}

func TestSession_ZeroLocationsIgnored(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.LocationChange{TotalLocations: 0})
	assert.Empty(t, h.rec.Commands())
}

func TestSession_CachedPaginationFinishesLoading(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.ChangeInitialLocations(h.ctx, h.book.ID, json.RawMessage(`["c0","c1"]`))
	require.NoError(t, err)
	require.NoError(t, h.store.ChangeSectionsPercentages(h.ctx, h.book.ID, []float64{0, 1}))
	require.NoError(t, h.store.ChangeCfiLocation(h.ctx, h.book.ID, "c7"))

	h.deliver(locationAt("c0", 0, "ch1.xhtml"))

	assert.Equal(t, Loaded, h.session.Phase())
	assert.Equal(t, bridge.GoToLocation{Cfi: "c7"}, h.lastCommand())
	assert.Empty(t, h.rec.Scripts(bridge.ScriptUpdateSections))
}

func TestSession_PaginationGoesToStartWithoutCfi(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.UpdateSections{IsLoading: true})
	assert.Equal(t, Paginating, h.session.Phase())

	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.3, 0.6}, TotalPages: 90})

	assert.Equal(t, Loaded, h.session.Phase())
	assert.Equal(t, bridge.GoToLocation{Cfi: entity.CanonicalStart}, h.lastCommand())

	book := h.reload()
	assert.Equal(t, 90, book.TotalPages)
	assert.Equal(t, 0, book.Page, "first pagination starts at zero")
	assert.Equal(t, []float64{0, 0.3, 0.6}, book.SectionsPercentages)
}

func TestSession_RepaginationRescalesPage(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.ChangePagination(h.ctx, h.book.ID, 100, 40, 0.4))
	require.NoError(t, h.store.ChangeCfiLocation(h.ctx, h.book.ID, "c40"))
	h.loaded(100)

	settings := bridge.Settings{FontSize: 20, Theme: "dark", LineHeight: 1.4}
	h.handle(Event{Type: EventTypeSettings, Settings: settings})

	assert.Equal(t, Repaginating, h.session.Phase())
	applied := h.rec.Scripts(bridge.ScriptApplySettings)
	require.Len(t, applied, 1)
	assert.Equal(t, settings, applied[0].Settings)
	assert.Len(t, h.rec.Scripts(bridge.ScriptUpdateSections), 1)

	// Location events during relayout are not trusted.
	h.deliver(locationAt("c-bogus", 12, "ch1.xhtml"), bridge.ChangeLocationCfi{Cfi: "c-link"})
	assert.Equal(t, "c40", h.reload().CfiLocation)
	assert.Zero(t, h.rec.Count(bridge.CommandGoToLocation))

	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.5}, TotalPages: 120})

	book := h.reload()
	assert.Equal(t, Loaded, h.session.Phase())
	assert.Equal(t, 120, book.TotalPages)
	assert.Equal(t, 48, book.Page)
	assert.InDelta(t, 0.4, book.Progress, 1e-9)
	assert.Equal(t, bridge.GoToLocation{Cfi: "c40"}, h.lastCommand())
}

func TestSession_RapidSettingsApplyLatestPagination(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.ChangePagination(h.ctx, h.book.ID, 100, 40, 0.4))
	h.loaded(100)

	h.handle(Event{Type: EventTypeSettings, Settings: bridge.Settings{FontSize: 18}})
	h.handle(Event{Type: EventTypeSettings, Settings: bridge.Settings{FontSize: 20}})
	assert.Len(t, h.rec.Scripts(bridge.ScriptUpdateSections), 2)

	h.deliver(bridge.UpdateSections{IsLoading: true}, bridge.UpdateSections{IsLoading: true})
	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.5}, TotalPages: 120})

	assert.Equal(t, Repaginating, h.session.Phase(), "the answer to the first request is superseded")
	assert.Equal(t, 100, h.reload().TotalPages)
	assert.Zero(t, h.rec.Count(bridge.CommandGoToLocation))

	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.4}, TotalPages: 150})

	book := h.reload()
	assert.Equal(t, Loaded, h.session.Phase())
	assert.Equal(t, 150, book.TotalPages)
	assert.Equal(t, 60, book.Page)
	assert.InDelta(t, 0.4, book.Progress, 1e-9)
	assert.Equal(t, []float64{0, 0.4}, book.SectionsPercentages)
}

func TestSession_UnencodableSettingsRejected(t *testing.T) {
	h := newHarness(t)
	h.loaded(50)

	err := h.session.Handle(h.ctx, Event{Type: EventTypeSettings, Settings: bridge.Settings{FontSize: 16, LineHeight: math.NaN()}})
	var perr *bridge.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, bridge.ErrCodeUnencodable, perr.Code)

	assert.Equal(t, Loaded, h.session.Phase(), "no relayout was requested")
	assert.Empty(t, h.rec.Commands())
}

func TestSession_LoadedLocationChange(t *testing.T) {
	h := newHarness(t)
	h.loaded(50)

	h.deliver(locationAt("c3", 0, "ch1.xhtml"))
	assert.Empty(t, h.rec.Commands(), "location 0 is ignored")

	h.deliver(locationAt("c12", 12, "ch2.xhtml"))
	assert.Equal(t, "c12", h.reload().CfiLocation)
	assert.Len(t, h.rec.Scripts(bridge.ScriptFindCurrentElementIndex), 1)
	assert.Equal(t, "ch2.xhtml", h.session.currentHref)
}

func TestSession_DuplicatePaginationDropped(t *testing.T) {
	h := newHarness(t)
	h.loaded(50)

	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{1}, TotalPages: 999})

	assert.Equal(t, 50, h.reload().TotalPages)
	assert.Empty(t, h.rec.Commands())
}

func TestSession_RendererRepaginates(t *testing.T) {
	h := newHarness(t)
	h.loaded(50)

	h.deliver(bridge.UpdateSections{IsLoading: true})
	assert.Equal(t, Repaginating, h.session.Phase())

	h.deliver(bridge.UpdateSections{SectionsPercentages: []float64{0, 0.5}, TotalPages: 25})
	assert.Equal(t, Loaded, h.session.Phase())
	assert.Equal(t, 25, h.reload().TotalPages)
}

func TestSession_ChangeLocationCfi(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.ChangeLocationCfi{Cfi: "c-early"})
	assert.Empty(t, h.rec.Commands())

	h.loaded(50)
	h.deliver(bridge.ChangeLocationCfi{Cfi: "c-footnote"})
	assert.Equal(t, bridge.GoToLocation{Cfi: "c-footnote"}, h.lastCommand())
}

func TestSession_SettingsWhilePaginating(t *testing.T) {
	h := newHarness(t)

	h.handle(Event{Type: EventTypeSettings, Settings: bridge.Settings{FontSize: 12}})
	assert.Empty(t, h.rec.Scripts(bridge.ScriptUpdateSections), "no request outstanding")
	assert.Len(t, h.rec.Scripts(bridge.ScriptApplySettings), 1)

	h.deliver(locationAt("c0", 0, "ch1.xhtml"))
	h.handle(Event{Type: EventTypeSettings, Settings: bridge.Settings{FontSize: 14}})
	assert.Len(t, h.rec.Scripts(bridge.ScriptUpdateSections), 2, "outstanding request re-sent")
	assert.Equal(t, Paginating, h.session.Phase())
}

func TestSession_PageTurns(t *testing.T) {
	h := newHarness(t)

	h.handle(Event{Type: EventTypePageTurn, Direction: Next})
	assert.Empty(t, h.rec.Commands(), "page turns wait for loaded")

	h.loaded(4)

	h.handle(Event{Type: EventTypePageTurn, Direction: Prev})
	assert.Equal(t, 0, h.reload().Page, "no page before zero")

	for i := 0; i < 6; i++ {
		h.handle(Event{Type: EventTypePageTurn, Direction: Next})
		book := h.reload()
		assert.LessOrEqual(t, book.Page, book.TotalPages)
		assert.InDelta(t, entity.ProgressOf(book.Page, book.TotalPages), book.Progress, 1e-9)
	}
	assert.Equal(t, 4, h.reload().Page)
	assert.Equal(t, 4, h.rec.Count(bridge.CommandGoNext))

	h.handle(Event{Type: EventTypePageTurn, Direction: Prev})
	book := h.reload()
	assert.Equal(t, 3, book.Page)
	assert.InDelta(t, 0.75, book.Progress, 1e-9)
	assert.Equal(t, 1, h.rec.Count(bridge.CommandGoPrevious))
}

func TestSession_Seek(t *testing.T) {
	h := newHarness(t)
	h.loaded(10)

	h.handle(Event{Type: EventTypeSeek, Page: 7})
	assert.Equal(t, 7, h.reload().Page)
	assert.InDelta(t, 0.7, h.reload().Progress, 1e-9)

	h.handle(Event{Type: EventTypeSeek, Page: 70})
	assert.Equal(t, 10, h.reload().Page)

	h.handle(Event{Type: EventTypeSeek, Page: -3})
	assert.Equal(t, 0, h.reload().Page)
}

func TestSession_LocationsReady(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.LocationsReady{Locations: json.RawMessage(`["c0","c1"]`), Toc: json.RawMessage(`[{"href":"ch1.xhtml"}]`)})
	assert.JSONEq(t, `["c0","c1"]`, string(h.reload().InitialLocations))
	assert.Equal(t, []bridge.Command{bridge.GoNext{}, bridge.GoPrevious{}}, h.rec.Commands())

	h.deliver(bridge.LocationsReady{Locations: json.RawMessage(`["other"]`)})
	assert.JSONEq(t, `["c0","c1"]`, string(h.reload().InitialLocations), "manifest is set once")

	h.deliver(locationAt("c0", 0, "ch1.xhtml"))
	sections := h.rec.Scripts(bridge.ScriptUpdateSections)
	require.Len(t, sections, 1)
	assert.JSONEq(t, `[{"href":"ch1.xhtml"}]`, string(sections[0].Toc), "toc forwarded")
}

func TestSession_LocationsReadyRestoresCfi(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.ChangeCfiLocation(h.ctx, h.book.ID, "c9"))

	h.deliver(bridge.LocationsReady{Locations: json.RawMessage(`["c0"]`)})
	assert.Equal(t, []bridge.Command{bridge.GoToLocation{Cfi: "c9"}}, h.rec.Commands())
}

func TestSession_ReadyPushesSettings(t *testing.T) {
	settings := bridge.Settings{FontSize: 16, Theme: "light", LineHeight: 1.2, FontFamily: "serif"}
	h := newHarness(t, WithSettings(settings))

	h.deliver(bridge.Ready{})
	applied := h.rec.Scripts(bridge.ScriptApplySettings)
	require.Len(t, applied, 1)
	assert.Equal(t, settings, applied[0].Settings)
}

func TestSession_DiagnosticsAndUnknownIgnored(t *testing.T) {
	h := newHarness(t)
	h.deliver(bridge.Log{Text: "hi"}, bridge.Error{Text: "oops"}, bridge.Unknown{Type: "onPress"})
	assert.Empty(t, h.rec.Commands())
}

func TestSession_HandleRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.session.Handle(h.ctx, Event{Type: EventTypeMessage}))
	assert.Error(t, h.session.Handle(h.ctx, Event{Type: EventType(42)}))
}

func TestSession_OpenLoadsSource(t *testing.T) {
	h := newHarness(t)
	loader := LoaderFunc(func(_ context.Context, uri string) (string, error) {
		assert.Equal(t, "file:///books/dune.epub", uri)
		return "/cache/dune.epub", nil
	})

	require.NoError(t, h.session.Open(h.ctx, loader))
	assert.Equal(t, []bridge.Command{bridge.Load{Src: "/cache/dune.epub"}}, h.rec.Commands())
}

func TestSession_OpenFailureNotifies(t *testing.T) {
	var notices []string
	notifier := NotifierFunc(func(_ context.Context, title, _ string) { notices = append(notices, title) })
	h := newHarness(t, WithNotifier(notifier))
	boom := errors.New("disk gone")

	err := h.session.Open(h.ctx, LoaderFunc(func(context.Context, string) (string, error) { return "", boom }))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"Error"}, notices)
	assert.Empty(t, h.rec.Commands())
}

func TestSession_RunLoop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()

	h.session.Deliver(bridge.UpdateSections{SectionsPercentages: []float64{0}, TotalPages: 10})
	require.NoError(t, h.session.Seek(5))
	require.NoError(t, h.session.Sync(ctx))

	assert.Equal(t, 5, h.reload().Page)

	h.session.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.ErrorIs(t, h.session.TurnPage(Next), ErrClosed)
	assert.ErrorIs(t, h.session.Sync(context.Background()), ErrClosed)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSession_RunLoopSurvivesHandlerErrors(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.session.Run(ctx) }()

	// Unknown book rows make every handler fail; the loop keeps going.
	require.NoError(t, h.store.DB().Close())
	h.session.Deliver(bridge.UpdateSections{SectionsPercentages: []float64{0}, TotalPages: 10})
	h.session.Deliver(bridge.Ready{})
	require.NoError(t, h.session.Sync(ctx))

	assert.Len(t, h.rec.Scripts(bridge.ScriptApplySettings), 1)
}

func newTranslatingHarness(t *testing.T) (*harness, *testutil.ManualClock, *translate.Mock) {
	t.Helper()
	clock := testutil.NewManualClock()
	mock := translate.NewMock()

	h := newHarness(t)
	pipeline := translate.NewPipeline(mock, h.store, h.rec, translate.WithClock(clock))
	h.session = New(h.book.ID, h.store, h.rec, WithPipeline(pipeline))
	return h, clock, mock
}

func TestSession_TranslatesFromLastTranslated(t *testing.T) {
	h, _, _ := newTranslatingHarness(t)
	h.loaded(100)

	units := make([]string, 60)
	for i := range units {
		units[i] = testutil.Text(i, 20)
	}
	h.deliver(bridge.ElementsInSection{Href: "ch5.xhtml", TextElements: units})
	section, err := h.store.SectionByHref(h.ctx, h.book.ID, "ch5.xhtml")
	require.NoError(t, err)
	require.NoError(t, h.store.ChangeContent(h.ctx, section.ID, 30, "hecho"))

	h.deliver(locationAt("c50", 50, "ch5.xhtml"), bridge.CurrentElementIndex{Index: 50})

	run := h.session.pipeline.Active()
	require.NotNil(t, run)
	chunks := run.Chunks()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 31, chunks[0][0].Index, "resumes after index 30, the last translated")

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, 29, total)
	run.Cancel()
}

func TestSession_TranslatesFromCurrentWhenNothingTranslated(t *testing.T) {
	h, clock, mock := newTranslatingHarness(t)
	h.loaded(100)

	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"uno", "dos", "tres"}})
	h.deliver(locationAt("c1", 1, "ch1.xhtml"), bridge.CurrentElementIndex{Index: 1})

	run := h.session.pipeline.Active()
	require.NotNil(t, run)
	clock.Advance(0)
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.Equal(t, [][]string{{"dos", "tres"}}, mock.Calls())
	section, err := h.store.SectionByHref(h.ctx, h.book.ID, "ch1.xhtml")
	require.NoError(t, err)
	els, err := h.store.TextElements(h.ctx, section.ID)
	require.NoError(t, err)
	assert.Equal(t, "uno", els[0].Content)
	assert.Equal(t, "~dos", els[1].Content)
	assert.True(t, els[2].Translated)
}

func TestSession_NoTranslationWithoutSectionOrWhenOff(t *testing.T) {
	h, _, mock := newTranslatingHarness(t)
	h.loaded(100)

	h.deliver(bridge.CurrentElementIndex{Index: 3})
	assert.Nil(t, h.session.pipeline.Active(), "no current section yet")

	h.deliver(locationAt("c1", 1, "missing.xhtml"), bridge.CurrentElementIndex{Index: 3})
	assert.Nil(t, h.session.pipeline.Active(), "section never ingested")

	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"a"}})
	h.handle(Event{Type: EventTypeTranslation, Enabled: false})
	h.deliver(locationAt("c2", 2, "ch1.xhtml"), bridge.CurrentElementIndex{Index: 0})
	assert.Nil(t, h.session.pipeline.Active(), "translation switched off")
	assert.Empty(t, mock.Calls())
}

func TestSession_IngestIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"a", "b"}})
	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"x", "y", "z"}})

	section, err := h.store.SectionByHref(h.ctx, h.book.ID, "ch1.xhtml")
	require.NoError(t, err)
	els, err := h.store.TextElements(h.ctx, section.ID)
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "a", els[0].Content)
}

func TestSession_IngestEmptySection(t *testing.T) {
	h := newHarness(t)

	h.deliver(bridge.ElementsInSection{Href: "cover.xhtml", TextElements: []string{}})

	section, err := h.store.SectionByHref(h.ctx, h.book.ID, "cover.xhtml")
	require.NoError(t, err)
	els, err := h.store.TextElements(h.ctx, section.ID)
	require.NoError(t, err)
	assert.Empty(t, els)
}

func TestSession_IngestRepushesTranslations(t *testing.T) {
	h, _, _ := newTranslatingHarness(t)
	h.loaded(100)

	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"one", "two"}})
	section, err := h.store.SectionByHref(h.ctx, h.book.ID, "ch1.xhtml")
	require.NoError(t, err)
	require.NoError(t, h.store.ChangeContent(h.ctx, section.ID, 1, "dos"))
	h.rec.Reset()

	// The renderer re-renders the subdivision and reports it again.
	h.deliver(bridge.ElementsInSection{Href: "ch1.xhtml", TextElements: []string{"one", "two"}})

	replaced := h.rec.Scripts(bridge.ScriptReplaceTextElement)
	require.Len(t, replaced, 1)
	assert.Equal(t, 1, replaced[0].Index)
	assert.Equal(t, "dos", replaced[0].Text)
}

func TestIngest_ReportsCreated(t *testing.T) {
	h := newHarness(t)

	_, created, err := Ingest(h.ctx, h.store, h.book.ID, "ch1.xhtml", []string{"a"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = Ingest(h.ctx, h.store, h.book.ID, "ch1.xhtml", []string{"a"})
	require.NoError(t, err)
	assert.False(t, created)
}
