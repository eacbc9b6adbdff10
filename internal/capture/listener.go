package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/notifications"
	"github.com/MarcoPoloResearchLab/moochie/internal/sender"
	"go.uber.org/zap"
)

// DefaultOwnPackage is the package id of the app itself; its notifications
// are never mirrored.
const DefaultOwnPackage = "com.cute.moochie"

// DefaultExcludedTitles are known noise notifications, including the empty title.
var DefaultExcludedTitles = []string{
	"Chat heads active",
	"Updating your shared location…",
	"Choose input method",
	"",
}

var (
	errMissingAppender = errors.New("capture: notification appender required")
	errMissingSessions = errors.New("capture: session source required")
)

// State is the lifecycle position of a Listener.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	default:
		return "disconnected"
	}
}

// Status summarizes what happened to one posted notification.
type Status string

const (
	StatusForwarded Status = "forwarded"
	StatusDropped   Status = "dropped"
	StatusFailed    Status = "failed"
)

// Drop and failure reasons reported in Outcome.Reason.
const (
	ReasonNotRunning    = "listener_not_running"
	ReasonNoSession     = "no_session"
	ReasonOwnPackage    = "own_package"
	ReasonExcludedTitle = "excluded_title"
	ReasonStoreFailed   = "store_failed"
)

// Event is a notification as posted by the operating system.
type Event struct {
	PackageName string
	AppName     string
	Title       string
	Text        string
	PostTime    time.Time
}

// Owner is the signed-in user notifications are attributed to.
type Owner struct {
	UserID string
	Email  string
}

// Outcome reports the listener's decision for an Event.
type Outcome struct {
	Status Status
	Reason string
	Record *notifications.Record
}

// Appender writes records to the remote message store.
type Appender interface {
	Append(ctx context.Context, input notifications.NewRecordInput) (notifications.Record, error)
}

// SessionSource yields the signed-in owner, if any.
type SessionSource interface {
	Owner(ctx context.Context) (Owner, bool)
}

// TitleFilter decides whether a title is noise.
type TitleFilter interface {
	Excluded(ctx context.Context, title string) bool
}

// Rebinder asks the notification source to bind the listener again.
type Rebinder interface {
	RequestRebind()
}

// RebinderFunc adapts a function to Rebinder.
type RebinderFunc func()

func (f RebinderFunc) RequestRebind() {
	f()
}

type ListenerConfig struct {
	Appender   Appender
	Sessions   SessionSource
	Titles     TitleFilter
	Rebinder   Rebinder
	OwnPackage string
	Logger     *zap.Logger
}

// Listener receives every posted notification, filters noise and mirrors the
// rest into the remote message store.
type Listener struct {
	appender   Appender
	sessions   SessionSource
	titles     TitleFilter
	rebinder   Rebinder
	ownPackage string
	logger     *zap.Logger

	mu    sync.RWMutex
	state State
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Appender == nil {
		return nil, errMissingAppender
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	titles := cfg.Titles
	if titles == nil {
		titles = NewStaticTitleFilter(DefaultExcludedTitles)
	}
	ownPackage := strings.TrimSpace(cfg.OwnPackage)
	if ownPackage == "" {
		ownPackage = DefaultOwnPackage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		appender:   cfg.Appender,
		sessions:   cfg.Sessions,
		titles:     titles,
		rebinder:   cfg.Rebinder,
		ownPackage: ownPackage,
		logger:     logger,
		state:      StateDisconnected,
	}, nil
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Create marks the listener instance as alive; it still waits for Connect.
func (l *Listener) Create() {
	l.transition(StateConnected, "listener created")
}

// Connect is called once the notification source is bound.
func (l *Listener) Connect() {
	l.transition(StateRunning, "listener connected")
}

// Disconnect handles loss of the notification source binding by requesting a
// rebind instead of terminating.
func (l *Listener) Disconnect() {
	l.transition(StateDisconnected, "listener disconnected")
	if l.rebinder != nil {
		l.logger.Info("requesting listener rebind")
		l.rebinder.RequestRebind()
	}
}

// Destroy stops the listener for good.
func (l *Listener) Destroy() {
	l.transition(StateDisconnected, "listener destroyed")
}

func (l *Listener) transition(next State, message string) {
	l.mu.Lock()
	previous := l.state
	l.state = next
	l.mu.Unlock()
	l.logger.Debug(message, zap.Stringer("from", previous), zap.Stringer("to", next))
}

// OnNotificationPosted filters the event and appends a record for it. Store
// failures are logged and reported in the outcome, never retried.
func (l *Listener) OnNotificationPosted(ctx context.Context, event Event) Outcome {
	if l.State() != StateRunning {
		l.logger.Debug("listener not running, dropping notification", zap.String("package_name", event.PackageName))
		return dropped(ReasonNotRunning)
	}

	owner, ok := l.sessions.Owner(ctx)
	if !ok || strings.TrimSpace(owner.UserID) == "" {
		l.logger.Debug("user not signed in, skipping notification", zap.String("package_name", event.PackageName))
		return dropped(ReasonNoSession)
	}

	if event.PackageName == l.ownPackage {
		l.logger.Debug("skipping own notification")
		return dropped(ReasonOwnPackage)
	}

	if l.titles.Excluded(ctx, event.Title) {
		l.logger.Debug("skipping excluded notification", zap.String("title", event.Title))
		return dropped(ReasonExcludedTitle)
	}

	appName := event.AppName
	if strings.TrimSpace(appName) == "" {
		appName = event.PackageName
	}
	senderInfo := sender.Describe(event.PackageName, event.Title, event.Text, owner.Email)

	record, err := l.appender.Append(ctx, notifications.NewRecordInput{
		SourceApp:       event.PackageName,
		AppDisplayName:  appName,
		Title:           event.Title,
		Body:            event.Text,
		PostedAt:        event.PostTime,
		OwnerUserID:     owner.UserID,
		ExtractedSender: senderInfo,
	})
	if err != nil {
		l.logger.Error("failed to save notification",
			zap.String("package_name", event.PackageName),
			zap.Error(err))
		return Outcome{Status: StatusFailed, Reason: ReasonStoreFailed}
	}

	l.logger.Debug("notification saved",
		zap.String("record_id", record.RecordID),
		zap.String("app_name", appName),
		zap.String("sender", senderInfo))
	return Outcome{Status: StatusForwarded, Record: &record}
}

func dropped(reason string) Outcome {
	return Outcome{Status: StatusDropped, Reason: reason}
}
