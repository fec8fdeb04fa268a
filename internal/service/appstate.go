package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Theme is the UI colour scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

const themeKey = "theme"

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool { return t == ThemeDark || t == ThemeLight }

// AppState is the per-session client state. Only the theme crosses the
// persistence boundary; the wager list and selection live in memory.
type AppState struct {
	prefs domain.PreferenceStore

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	theme    Theme
	loaded   bool
	wagers   []domain.BetSnapshot
	selected *uint64
}

// NewAppState creates an AppState. prefs may be nil, in which case the theme
// is kept in memory only.
func NewAppState(prefs domain.PreferenceStore) *AppState {
	return &AppState{prefs: prefs, sessions: make(map[string]*sessionState)}
}

func (a *AppState) session(id string) *sessionState {
	st, ok := a.sessions[id]
	if !ok {
		st = &sessionState{theme: ThemeDark}
		a.sessions[id] = st
	}
	return st
}

// Theme returns the session theme, loading it from the preference store on
// first use. Defaults to dark.
func (a *AppState) Theme(ctx context.Context, session string) (Theme, error) {
	a.mu.Lock()
	st := a.session(session)
	if st.loaded || a.prefs == nil {
		t := st.theme
		a.mu.Unlock()
		return t, nil
	}
	a.mu.Unlock()

	v, err := a.prefs.Get(ctx, session, themeKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return ThemeDark, fmt.Errorf("appstate: load theme: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !st.loaded {
		if t := Theme(v); t.Valid() {
			st.theme = t
		}
		st.loaded = true
	}
	return st.theme, nil
}

// SetTheme sets and persists the session theme.
func (a *AppState) SetTheme(ctx context.Context, session string, t Theme) error {
	if !t.Valid() {
		return domain.Invalid("theme", "must be dark or light")
	}
	if a.prefs != nil {
		if err := a.prefs.Set(ctx, session, themeKey, string(t)); err != nil {
			return fmt.Errorf("appstate: save theme: %w", err)
		}
	}
	a.mu.Lock()
	st := a.session(session)
	st.theme, st.loaded = t, true
	a.mu.Unlock()
	return nil
}

// ToggleTheme flips between dark and light and returns the new theme.
func (a *AppState) ToggleTheme(ctx context.Context, session string) (Theme, error) {
	cur, err := a.Theme(ctx, session)
	if err != nil {
		return cur, err
	}
	next := ThemeLight
	if cur == ThemeLight {
		next = ThemeDark
	}
	return next, a.SetTheme(ctx, session, next)
}

// Wagers returns a copy of the session's cached wager list.
func (a *AppState) Wagers(session string) []domain.BetSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.BetSnapshot(nil), a.session(session).wagers...)
}

// SetWagers replaces the cached wager list.
func (a *AppState) SetWagers(session string, wagers []domain.BetSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session(session).wagers = append([]domain.BetSnapshot(nil), wagers...)
}

// AddWager puts w at the front of the list.
func (a *AppState) AddWager(session string, w domain.BetSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.session(session)
	st.wagers = append([]domain.BetSnapshot{w}, st.wagers...)
}

// UpdateWager applies fn to the cached wager with the given id and reports
// whether one was found.
func (a *AppState) UpdateWager(session string, id uint64, fn func(*domain.BetSnapshot)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.session(session)
	for i := range st.wagers {
		if st.wagers[i].ID == id {
			fn(&st.wagers[i])
			return true
		}
	}
	return false
}

// SetSelectedWager sets or clears (nil) the selected wager.
func (a *AppState) SetSelectedWager(session string, id *uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.session(session)
	if id == nil {
		st.selected = nil
		return
	}
	v := *id
	st.selected = &v
}

// SelectedWager returns the selected wager id, if any.
func (a *AppState) SelectedWager(session string) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.session(session)
	if st.selected == nil {
		return 0, false
	}
	return *st.selected, true
}

// Forget drops the in-memory state of a session. The persisted theme stays.
func (a *AppState) Forget(session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, session)
}
