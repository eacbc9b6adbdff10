package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/MarcoPoloResearchLab/moochie/internal/imagesync"
	"github.com/MarcoPoloResearchLab/moochie/internal/session"
	"github.com/MarcoPoloResearchLab/moochie/internal/widget"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	roomImageWorkName   = "room-image-check"
	streamRetryInterval = 30 * time.Second
)

// loaderFunc adapts a function to imagesync.Loader.
type loaderFunc func(ctx context.Context, imageURL string) error

func (f loaderFunc) Load(ctx context.Context, imageURL string) error {
	return f(ctx, imageURL)
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the widget in sync with the room image and follow the room chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openAgent(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWatch(ctx, a)
		},
	}
}

func runWatch(ctx context.Context, a *agent) error {
	if result := checkVersion(ctx, a); result.UpdateAvailable {
		a.logger.Info("update available",
			zap.String("latest_version", result.LatestVersion),
			zap.String("download_url", result.DownloadURL))
	}

	view, err := widget.NewFileView(a.config.WidgetOutputPath)
	if err != nil {
		return err
	}
	renderer, err := widget.NewRenderer(widget.RendererConfig{Store: a.prefs, View: view, Logger: a.logger})
	if err != nil {
		return err
	}
	renderer.Refresh(ctx)

	display := imagesync.NewDisplay(loaderFunc(func(_ context.Context, imageURL string) error {
		a.logger.Info("room image changed", zap.String("url", imageURL), zap.String("widget", view.Path()))
		return nil
	}), a.logger)

	client, err := imagesync.NewClient(imagesync.ClientConfig{BaseURL: a.config.ImageBaseURL, Logger: a.logger})
	if err != nil {
		return err
	}
	checker, err := imagesync.NewChecker(imagesync.CheckerConfig{
		Preferences: a.prefs,
		Fetcher:     client,
		Sinks:       []imagesync.UpdateSink{renderer, display},
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	scheduler := imagesync.NewScheduler(imagesync.SchedulerConfig{Logger: a.logger})
	defer scheduler.Stop()
	if _, err := scheduler.EnqueueUniquePeriodic(roomImageWorkName, imagesync.PeriodicWork{
		Interval:     a.config.SyncInterval,
		InitialDelay: a.config.SyncInitialDelay,
		Policy:       imagesync.PolicyKeep,
		Run: func(runCtx context.Context) error {
			_, err := checker.Check(runCtx)
			return err
		},
	}); err != nil {
		return err
	}

	current, err := a.sessions.Load()
	switch {
	case errors.Is(err, session.ErrNoSession):
		a.logger.Info("not signed in, room chat disabled")
	case err != nil:
		return err
	default:
		go a.followChat(ctx, current)
	}

	<-ctx.Done()
	return nil
}

// followChat logs new messages from other room members until ctx ends,
// reconnecting after stream failures.
func (a *agent) followChat(ctx context.Context, current session.Session) {
	stream, err := chat.NewStreamClient(chat.StreamClientConfig{
		BaseURL:     a.config.APIBaseURL,
		AccessToken: current.AccessToken,
		Logger:      a.logger,
	})
	if err != nil {
		a.logger.Error("chat stream unavailable", zap.Error(err))
		return
	}
	notifier := chat.NewNotifier(current.UserID)

	for ctx.Err() == nil {
		code, err := a.roomCode(ctx)
		if err != nil {
			a.logger.Info("room chat waiting for room code", zap.Error(err))
		} else {
			err = stream.Follow(ctx, code, func(messages []chat.Message) {
				for _, alert := range notifier.Observe(messages) {
					a.logger.Info("new room message",
						zap.String("room_code", alert.RoomCode),
						zap.String("sender", alert.SenderName),
						zap.String("text", alert.Text))
				}
			})
			if err != nil {
				a.logger.Warn("room chat stream ended", zap.String("room_code", code), zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryInterval):
		}
	}
}
