package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/appbuilder"
	"github.com/park285/scorekeeper/internal/identity"
	"github.com/park285/scorekeeper/internal/msgcat"
	"github.com/park285/scorekeeper/internal/notify"
	"github.com/park285/scorekeeper/internal/obslog"
	"github.com/park285/scorekeeper/internal/registry"
	"github.com/park285/scorekeeper/internal/remote"
)

// session is a registry signed in as the configured user against the remote server.
type session struct {
	reg    *registry.Registry
	client *remote.Client
	cat    *msgcat.Catalog
	ident  *identity.Provider
}

func (a *app) openSession(ctx context.Context, opts ...remote.Option) (*session, error) {
	logger := obslog.Named("session")
	sink := func(_ notify.Notice, text string) { a.printf("%s\n", text) }
	notifier, cat, err := appbuilder.Notifier(a.cfg, sink, logger)
	if err != nil {
		return nil, err
	}

	s := &session{cat: cat, ident: identity.NewProvider()}
	// reconnects arrive after the registry exists
	opts = append(opts, remote.WithStateHandler(func(_ string, st remote.FeedState, reconnected bool) {
		logger.Debug("feed_state", zap.String("state", st.String()))
		if st == remote.StateConnected && reconnected && s.reg != nil {
			go func() { _ = s.reg.NetworkReconnected(ctx) }()
		}
	}))
	client, err := appbuilder.Remote(a.cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.reg = registry.New(client, s.ident,
		registry.WithNotifier(notifier),
		registry.WithLogger(logger),
		registry.WithPollInterval(a.cfg.PollInterval),
		registry.WithAllowedKinds(a.cfg.AllowedKinds),
	)
	if err := s.reg.Start(); err != nil {
		return nil, err
	}
	s.ident.SignIn(a.cfg.UserID)
	return s, nil
}

// close waits for queued writes before tearing down.
func (s *session) close(ctx context.Context) {
	if err := s.reg.Flush(ctx); err != nil {
		obslog.L().Warn("session_flush_error", zap.Error(err))
	}
	s.reg.Close()
}

// run opens a session, runs fn and closes it.
func (a *app) run(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	return fn(ctx, s)
}

func (s *session) require(id string) error {
	if _, ok := s.reg.Game(id); !ok {
		return fmt.Errorf("live game %s is not on your board", id)
	}
	return nil
}
