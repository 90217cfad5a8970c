// Package panel implements the tabbed catalog panel: source selection,
// keyword filtering, refresh, favorites, loading and login state.
//
// Handlers are serialized by the controller's mutex. Network calls run
// outside the lock; each catalog fetch carries the source and generation it
// was issued for and its result is dropped if either changed meanwhile.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/workflowshelf/workflowshelf/pkg/catalog"
	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/favorites"
	"github.com/workflowshelf/workflowshelf/pkg/loader"
	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
	"github.com/workflowshelf/workflowshelf/pkg/session"
)

// View is what the panel currently shows.
type View struct {
	Source  models.Source
	Status  catalog.Outcome
	Message string
	Loading bool
	Catalog models.Catalog
	Items   []catalog.Item
	Visible map[string]bool
	Keyword string
}

// VisibleItems returns the items that pass the current keyword.
func (v View) VisibleItems() []catalog.Item {
	var out []catalog.Item
	for _, it := range v.Items {
		if v.Visible[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

// Config wires the controller's collaborators.
type Config struct {
	Fetcher   *catalog.Fetcher
	Favorites *favorites.Store
	Sessions  *session.Store
	Loader    *loader.Loader
	Notifier  loader.Notifier
}

// Controller is the panel state machine over {Local, Cloud, Member} x
// {LoggedOut, LoggedIn}.
type Controller struct {
	fetcher   *catalog.Fetcher
	favorites *favorites.Store
	sessions  *session.Store
	loader    *loader.Loader
	notify    loader.Notifier

	mu         sync.Mutex
	active     models.Source
	generation uint64
	session    *models.Session
	view       View

	bg sync.WaitGroup
}

// New creates a controller on the Local tab.
func New(cfg Config) *Controller {
	return &Controller{
		fetcher:   cfg.Fetcher,
		favorites: cfg.Favorites,
		sessions:  cfg.Sessions,
		loader:    cfg.Loader,
		notify:    cfg.Notifier,
		active:    models.SourceLocal,
		view:      View{Source: models.SourceLocal, Visible: map[string]bool{}},
	}
}

// Start shows the stored session optimistically, loads the Local catalog and
// validates the session in the background. An invalid session is logged out.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.session = c.sessions.Current()
	c.active = models.SourceLocal
	c.view = View{Source: models.SourceLocal, Visible: map[string]bool{}}
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if c.sessions.Validate(ctx, sess) {
				return
			}
			logger.Info("Stored session is no longer valid, logging out")
			c.dropSession(ctx, sess)
		}()
	}

	return c.fetch(ctx, models.SourceLocal)
}

// Wait blocks until background work started by Start has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Snapshot returns a copy of the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.view
	v.Items = append([]catalog.Item(nil), c.view.Items...)
	v.Visible = make(map[string]bool, len(c.view.Visible))
	for k, vis := range c.view.Visible {
		v.Visible[k] = vis
	}
	return v
}

// Active returns the selected source.
func (c *Controller) Active() models.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Session returns the current session, or nil when logged out.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LoggedIn reports whether a session is present.
func (c *Controller) LoggedIn() bool {
	return c.Session() != nil
}

// SelectTab switches to source s and fetches its catalog. Switching to a
// source that needs a session while logged out is refused with a login
// prompt. The keyword is reset on every switch.
func (c *Controller) SelectTab(ctx context.Context, s models.Source) error {
	c.mu.Lock()
	if c.fetcher.RequiresAuth(s) && c.session == nil {
		c.mu.Unlock()
		c.notify.PromptLogin()
		return client.ErrUnauthenticated
	}
	c.active = s
	c.view = View{Source: s, Visible: map[string]bool{}}
	c.mu.Unlock()

	return c.fetch(ctx, s)
}

// SetKeyword filters the rendered items without refetching.
func (c *Controller) SetKeyword(keyword string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Keyword = keyword
	c.view.Visible = catalog.ComputeVisibility(c.view.Items, keyword)
}

// Refresh refetches the active source. For Cloud the server cache is purged
// first; if the purge fails the current view is kept.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	source, sess := c.active, c.session
	c.mu.Unlock()

	if source == models.SourceCloud {
		if err := c.fetcher.PurgeRemoteCache(ctx, sess); err != nil {
			if catalog.Classify(err) == catalog.Unauthorized {
				c.rejected(ctx, sess, err)
				c.notify.PromptLogin()
			} else {
				c.notify.Error(fmt.Sprintf("Failed to clear cloud cache: %v", err))
			}
			return err
		}
	}
	return c.fetch(ctx, source)
}

// ToggleFavorite flips the favorite state of path and re-renders.
func (c *Controller) ToggleFavorite(path string) (bool, error) {
	member, err := c.favorites.Toggle(path)
	if err != nil {
		c.notify.Error(fmt.Sprintf("Failed to update favorites: %v", err))
		return member, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rematerialize()
	return member, nil
}

// Open loads path from the active source into the host.
func (c *Controller) Open(ctx context.Context, path string) (json.RawMessage, error) {
	c.mu.Lock()
	source, sess := c.active, c.session
	c.mu.Unlock()

	doc, err := c.loader.Load(ctx, source, path, sess)
	if err != nil && catalog.Classify(err) == catalog.Unauthorized {
		c.rejected(ctx, sess, err)
		c.notify.PromptLogin()
	}
	return doc, err
}

// Login authenticates. The active tab does not change.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	sess, err := c.sessions.Login(ctx, username, password)
	return c.loggedIn(sess, err)
}

// Register creates an account and logs in. The active tab does not change.
func (c *Controller) Register(ctx context.Context, username, password, confirm string) error {
	sess, err := c.sessions.Register(ctx, username, password, confirm)
	return c.loggedIn(sess, err)
}

func (c *Controller) loggedIn(sess *models.Session, err error) error {
	if err != nil {
		c.notify.Error(authMessage(err))
		return err
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	name := sess.Profile.DisplayName
	if name == "" {
		name = sess.Profile.Username
	}
	c.notify.Info("Welcome, " + name)
	return nil
}

// authMessage prefers the server's reason over the wrapped error text.
func authMessage(err error) string {
	if se, ok := client.AsStatus(err); ok && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

// Logout clears the session. If the active tab needs a session the panel
// returns to Local.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	return c.dropSession(ctx, sess)
}

// dropSession logs out if sess is still the current session.
func (c *Controller) dropSession(ctx context.Context, sess *models.Session) error {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	leave := c.fetcher.RequiresAuth(c.active)
	c.mu.Unlock()

	err := c.sessions.Logout()
	if err != nil {
		logger.Error("Logout: %v", err)
	}
	if leave {
		if ferr := c.SelectTab(ctx, models.SourceLocal); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// rejected logs out when the server refused the token of sess.
func (c *Controller) rejected(ctx context.Context, sess *models.Session, err error) {
	if sess == nil || !errors.Is(err, client.ErrUnauthorized) {
		return
	}
	logger.Info("Session token was rejected, logging out")
	if lerr := c.dropSession(ctx, sess); lerr != nil {
		logger.Debug("Logout after rejected token: %v", lerr)
	}
}

// HandleEvent refetches when the server reports a change to the active
// source.
func (c *Controller) HandleEvent(ctx context.Context, ev protocol.CatalogEvent) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if ev.Source != active {
		return nil
	}
	logger.Debug("Catalog event %s for %s, refetching", ev.Type, ev.Source)
	return c.fetch(ctx, active)
}

// Watch feeds server events into HandleEvent until events is closed or ctx
// is done.
func (c *Controller) Watch(ctx context.Context, events <-chan protocol.CatalogEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.HandleEvent(ctx, ev); err != nil {
				logger.Debug("Refetch after event: %v", err)
			}
		}
	}
}

// fetch retrieves the catalog of source and applies it if the controller
// has not moved on since the request was issued.
func (c *Controller) fetch(ctx context.Context, source models.Source) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	sess := c.session
	c.view.Loading = true
	c.mu.Unlock()

	result, err := c.fetcher.Fetch(ctx, source, sess)

	c.mu.Lock()
	if source != c.active || gen != c.generation {
		logger.Debug("Discarding stale %s catalog (generation %d, current %d)", source, gen, c.generation)
		c.mu.Unlock()
		return nil
	}
	status, msg := c.apply(source, result, err)
	c.mu.Unlock()

	switch status {
	case catalog.NotImplemented:
		c.notify.Info(msg)
	case catalog.Unauthorized:
		c.rejected(ctx, sess, err)
		c.notify.PromptLogin()
	case catalog.Failed:
		c.notify.Error(msg)
	}
	return err
}

// apply records a fetch outcome in the view. Caller holds c.mu.
func (c *Controller) apply(source models.Source, result models.Catalog, err error) (catalog.Outcome, string) {
	c.view.Loading = false
	c.view.Status = catalog.Classify(err)
	c.view.Message = ""

	switch c.view.Status {
	case catalog.OK:
		c.view.Catalog = result
	case catalog.NotImplemented:
		c.view.Message = fmt.Sprintf("The %s catalog is not available yet", source)
		c.view.Catalog = nil
	case catalog.Unauthorized:
		c.view.Message = "Login required"
		c.view.Catalog = nil
	default:
		// The previous catalog of this source, if any, stays on screen.
		c.view.Message = fmt.Sprintf("Failed to load %s catalog: %v", source, err)
	}
	c.rematerialize()
	return c.view.Status, c.view.Message
}

// rematerialize rebuilds items and visibility. Caller holds c.mu.
func (c *Controller) rematerialize() {
	withFavs := c.fetcher.FavoritesApply(c.view.Source)
	var favs []string
	if withFavs && c.view.Catalog != nil {
		favs = c.favorites.List().Sorted()
	}
	c.view.Items = catalog.Materialize(c.view.Catalog, favs, withFavs)
	c.view.Visible = catalog.ComputeVisibility(c.view.Items, c.view.Keyword)
}
