package main

import (
	"io"
	"strings"
	"sync"

	"github.com/workflowshelf/workflowshelf/pkg/catalog"
	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/favorites"
	"github.com/workflowshelf/workflowshelf/pkg/kvstore"
	"github.com/workflowshelf/workflowshelf/pkg/loader"
	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/panel"
	"github.com/workflowshelf/workflowshelf/pkg/session"
)

type commandContext struct {
	configFlag *string
	serverFlag *string

	configOnce sync.Once
	config     *cliConfig
	configErr  error
}

func newCommandContext(configFlag, serverFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
	}
}

func (c *commandContext) ensureConfig() (*cliConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := loadCLIConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
			cfg.ServerURL = strings.TrimSuffix(strings.TrimSpace(*c.serverFlag), "/")
		}
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
		c.config = cfg
	})
	return c.config, c.configErr
}

// shelf is one panel session of the CLI: the client, its persisted state and
// the controller over them.
type shelf struct {
	client    *client.Client
	closeKV   func() error
	favorites *favorites.Store
	sessions  *session.Store
	host      *loader.WriterHost
	panel     *panel.Controller
}

func (c *commandContext) openShelf(out io.Writer) (*shelf, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	endpoints := client.DefaultEndpoints()
	if !cfg.CloudRequiresAuth {
		cloud := endpoints[models.SourceCloud]
		cloud.RequiresAuth = false
		endpoints[models.SourceCloud] = cloud
	}
	api := client.New(client.Config{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.timeout,
		Endpoints: endpoints,
	})

	kv, closeKV, err := openState(cfg)
	if err != nil {
		return nil, err
	}

	s := &shelf{
		client:    api,
		closeKV:   closeKV,
		favorites: favorites.New(kv),
		sessions:  session.New(kv, api),
		host:      loader.NewWriterHost(out),
	}
	notifier := loader.LogNotifier{}
	s.panel = panel.New(panel.Config{
		Fetcher:   catalog.NewFetcher(api),
		Favorites: s.favorites,
		Sessions:  s.sessions,
		Loader:    loader.New(api, s.host, notifier),
		Notifier:  notifier,
	})
	return s, nil
}

// close waits for background session validation and releases the state store.
func (s *shelf) close() error {
	s.panel.Wait()
	return s.closeKV()
}

func openState(cfg *cliConfig) (kvstore.Store, func() error, error) {
	if cfg.StateBackend == stateSQLite {
		db, err := kvstore.OpenSQLite(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	f, err := kvstore.NewFile(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	return f, func() error { return nil }, nil
}
