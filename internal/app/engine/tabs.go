package engine

import (
	"context"
	"fmt"

	"chatsync/internal/app/normalize"
	"chatsync/internal/app/tabs"
	"chatsync/internal/domain/chat"
)

func (e *Engine) Snapshot() tabs.Snapshot { return e.cache.Snapshot() }

// Tab returns the state of one filter.
func (e *Engine) Tab(key chat.FilterKey) (tabs.Tab, error) {
	tab, ok := e.cache.Snapshot().Tab(key)
	if !ok {
		return tabs.Tab{}, fmt.Errorf("%w: %q", chat.ErrUnknownFilter, key)
	}
	return tab, nil
}

func (e *Engine) ActiveTab() chat.FilterKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Activate switches the visible tab. Listing scoped filters are registered on
// first use. A tab that was never fetched loads page 0.
func (e *Engine) Activate(ctx context.Context, key chat.FilterKey) (tabs.Tab, error) {
	if _, ok := key.ListingID(); ok {
		e.cache.Register(key)
	}
	if !e.cache.Registered(key) {
		return tabs.Tab{}, fmt.Errorf("%w: %q", chat.ErrUnknownFilter, key)
	}
	e.mu.Lock()
	e.active = key
	e.mu.Unlock()

	tab, _ := e.cache.Snapshot().Tab(key)
	if tab.Initialized {
		return tab, nil
	}
	if err := e.ReloadTab(ctx, key); err != nil {
		return tab, err
	}
	return e.Tab(key)
}

// ReloadTab fetches page 0 of key and replaces the tab with it.
func (e *Engine) ReloadTab(ctx context.Context, key chat.FilterKey) error {
	if !e.cache.Registered(key) {
		return fmt.Errorf("%w: %q", chat.ErrUnknownFilter, key)
	}
	return e.fetchPage(ctx, key, 0)
}

// LoadMore fetches the next page of key. A call while another fetch for the
// same tab runs returns chat.ErrInFlight.
func (e *Engine) LoadMore(ctx context.Context, key chat.FilterKey) (tabs.Tab, error) {
	tab, err := e.Tab(key)
	if err != nil {
		return tabs.Tab{}, err
	}
	if tab.Initialized && !tab.HasMore {
		return tab, nil
	}
	page := 0
	if tab.Initialized {
		page = tab.Page + 1
	}
	if err := e.fetchPage(ctx, key, page); err != nil {
		return tab, err
	}
	return e.Tab(key)
}

// tabFetch tracks the fetches of one tab. A page 0 fetch always starts and
// bumps gen; any fetch that finishes under an older gen is discarded.
type tabFetch struct {
	gen      uint64
	inFlight int
}

func (e *Engine) fetchPage(ctx context.Context, key chat.FilterKey, page int) error {
	e.fetchMu.Lock()
	state := e.fetches[key]
	if state == nil {
		state = &tabFetch{}
		e.fetches[key] = state
	}
	if page > 0 && state.inFlight > 0 {
		e.fetchMu.Unlock()
		return fmt.Errorf("load %q page %d: %w", key, page, chat.ErrInFlight)
	}
	if page == 0 {
		state.gen++
	}
	gen := state.gen
	state.inFlight++
	e.fetchMu.Unlock()
	defer func() {
		e.fetchMu.Lock()
		state.inFlight--
		e.fetchMu.Unlock()
	}()

	raws, dropped, err := e.api.ListConversations(ctx, key, page, e.cfg.PageSize)
	if err != nil {
		e.checkAuth(err)
		return fmt.Errorf("load %q page %d: %w", key, page, err)
	}
	items, skipped := normalize.All(raws, e.cfg.UserID, normalize.Options{Images: e.images})
	skipped += dropped
	if skipped > 0 {
		e.logger.Warn("skipped malformed conversations", "filter", string(key), "page", page, "skipped", skipped)
	}

	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()
	if state.gen != gen {
		e.logger.Debug("discarded superseded page", "filter", string(key), "page", page)
		return nil
	}
	// Skipped records still count toward a full page.
	e.cache.LoadPage(key, page, items, e.cfg.PageSize-skipped)
	return nil
}
