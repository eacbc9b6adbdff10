package main

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/moochie/internal/apiclient"
	"github.com/MarcoPoloResearchLab/moochie/internal/config"
	"github.com/MarcoPoloResearchLab/moochie/internal/logging"
	"github.com/MarcoPoloResearchLab/moochie/internal/preferences"
	"github.com/MarcoPoloResearchLab/moochie/internal/session"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var errNoRoomCode = errors.New("no room code set; run `moochie-agent code <NNNN>` first")

// agent holds the local state every subcommand needs.
type agent struct {
	config   config.AgentConfig
	logger   *zap.Logger
	prefs    *preferences.Store
	sessions *session.Store
	api      *apiclient.Client
}

func openAgent(ctx context.Context) (*agent, error) {
	cfg, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	prefs, err := preferences.Open(ctx, cfg.PreferencesPath)
	if err != nil {
		return nil, err
	}
	sessions, err := session.Open(session.Config{
		FileDir:  cfg.KeyringFileDir,
		Password: cfg.KeyringPassword,
	})
	if err != nil {
		_ = prefs.Close()
		return nil, err
	}
	api, err := apiclient.New(apiclient.Config{BaseURL: cfg.APIBaseURL, Logger: logger})
	if err != nil {
		_ = prefs.Close()
		return nil, err
	}
	return &agent{config: cfg, logger: logger, prefs: prefs, sessions: sessions, api: api}, nil
}

func (a *agent) Close() {
	if err := a.prefs.Close(); err != nil {
		a.logger.Warn("failed to close preferences", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *agent) roomCode(ctx context.Context) (string, error) {
	code, err := a.prefs.RoomCode(ctx)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", errNoRoomCode
	}
	return code, nil
}

// activeSession returns the stored session when it is still usable.
func (a *agent) activeSession() (session.Session, error) {
	current, err := a.sessions.Load()
	if errors.Is(err, session.ErrNoSession) {
		return session.Session{}, errors.New("not signed in; run `moochie-agent login` first")
	}
	if err != nil {
		return session.Session{}, err
	}
	if current.Expired(timeNow()) {
		return session.Session{}, errors.New("session expired; run `moochie-agent login` again")
	}
	return current, nil
}
