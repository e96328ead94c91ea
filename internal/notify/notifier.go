package notify

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
	"github.com/desertthunder/sumstream/internal/state"
)

// Notification ID prefixes. A new notification replaces any existing one with the same prefix.
const (
	PrefixError     = "error"
	PrefixReconnect = "reconnect"
	PrefixRateLimit = "ratelimit"
	PrefixRestored  = "restored"
	PrefixInfo      = "info"
)

// Listener receives the full notification list after every change.
type Listener func([]models.Notification)

type listener struct {
	id int
	fn Listener
}

// Notifier holds the active notifications of one session.
type Notifier struct {
	cfg    shared.RealtimeConfig
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	items       []models.Notification
	timers      map[string]*time.Timer
	listeners   []listener
	nextID      int
	dirty       bool
	dispatching bool
	degraded    bool
	closed      bool
	detach      []func()
}

// NewNotifier creates an empty notifier.
func NewNotifier(cfg shared.RealtimeConfig, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Notifier{
		cfg:    cfg,
		logger: shared.WithLogger(logger, "component", "notify"),
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// Observe derives notifications from the transitions of store.
func (n *Notifier) Observe(store *state.Store) {
	unsubscribe := store.Subscribe(n.onChange)
	n.mu.Lock()
	n.detach = append(n.detach, unsubscribe)
	n.mu.Unlock()
}

// Subscribe registers fn for future changes of the list and returns a function that removes it.
func (n *Notifier) Subscribe(fn Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners = append(n.listeners, listener{id: id, fn: fn})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.listeners = slices.DeleteFunc(n.listeners, func(l listener) bool { return l.id == id })
	}
}

// Current returns a copy of the active notifications, oldest first.
func (n *Notifier) Current() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.items)
}

// Notify adds a notification under prefix, replacing any notification sharing that prefix.
// Success and info notifications expire on their own.
func (n *Notifier) Notify(prefix string, typ models.NotificationType, title, message string, action *models.Action) models.Notification {
	item := models.Notification{
		ID:          prefix + "-" + shared.GenerateID(),
		Type:        typ,
		Title:       title,
		Message:     message,
		Timestamp:   n.now(),
		Dismissible: true,
		Action:      action,
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return item
	}
	n.removePrefixLocked(prefix)
	n.items = append(n.items, item)

	if ttl := n.ttl(typ); ttl > 0 {
		id := item.ID
		n.timers[id] = time.AfterFunc(ttl, func() { n.Dismiss(id) })
	}
	n.mu.Unlock()

	n.logger.Debug("notification", "id", item.ID, "type", typ, "title", title)
	n.publish()
	return item
}

// NotifyError classifies err and shows it as an error notification.
func (n *Notifier) NotifyError(err error) models.Notification {
	c := ClassifyError(err)
	return n.Notify(PrefixError, models.NotificationError, c.Title, c.UserMessage, actionFor(c.Action))
}

// Dismiss removes the notification with id. It reports whether one was removed.
func (n *Notifier) Dismiss(id string) bool {
	n.mu.Lock()
	i := slices.IndexFunc(n.items, func(item models.Notification) bool { return item.ID == id })
	if i < 0 {
		n.mu.Unlock()
		return false
	}
	n.items = slices.Delete(n.items, i, i+1)
	n.stopTimerLocked(id)
	n.mu.Unlock()

	n.publish()
	return true
}

// Clear removes all notifications.
func (n *Notifier) Clear() {
	n.mu.Lock()
	for id := range n.timers {
		n.stopTimerLocked(id)
	}
	n.items = nil
	n.mu.Unlock()
	n.publish()
}

// Close stops expiry timers and detaches from observed stores.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id := range n.timers {
		n.stopTimerLocked(id)
	}
	detach := n.detach
	n.detach = nil
	n.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

func (n *Notifier) ttl(typ models.NotificationType) time.Duration {
	switch typ {
	case models.NotificationSuccess:
		return n.cfg.SuccessNotificationTTL()
	case models.NotificationInfo:
		return n.cfg.InfoNotificationTTL()
	default:
		return 0
	}
}

func (n *Notifier) removePrefixLocked(prefix string) {
	n.items = slices.DeleteFunc(n.items, func(item models.Notification) bool {
		if prefixOf(item.ID) != prefix {
			return false
		}
		n.stopTimerLocked(item.ID)
		return true
	})
}

func (n *Notifier) stopTimerLocked(id string) {
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
}

// publish delivers the latest list to listeners. Changes made while delivering are coalesced
// into another round by the goroutine already delivering.
func (n *Notifier) publish() {
	n.mu.Lock()
	n.dirty = true
	if n.dispatching {
		n.mu.Unlock()
		return
	}
	n.dispatching = true
	for n.dirty {
		n.dirty = false
		snapshot := slices.Clone(n.items)
		listeners := slices.Clone(n.listeners)
		n.mu.Unlock()

		for _, l := range listeners {
			l.fn(snapshot)
		}
		n.mu.Lock()
	}
	n.dispatching = false
	n.mu.Unlock()
}

func prefixOf(id string) string {
	prefix, _, _ := strings.Cut(id, "-")
	return prefix
}

func actionFor(kind models.ActionKind) *models.Action {
	switch kind {
	case models.ActionRetry:
		return &models.Action{Label: "Retry", Kind: models.ActionRetry}
	case models.ActionRefresh:
		return &models.Action{Label: "Refresh Page", Kind: models.ActionRefresh}
	default:
		return nil
	}
}

func (n *Notifier) setDegraded(v bool) (was bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	was = n.degraded
	n.degraded = v
	return was
}

func (n *Notifier) onChange(prev, next models.ConnectionState) {
	switch next.Status {
	case models.StatusError:
		if prev.Status == next.Status && prev.LastError == next.LastError {
			return
		}
		n.setDegraded(true)
		c := Classify(next.LastError)
		n.Notify(PrefixError, models.NotificationError, c.Title, c.UserMessage, actionFor(c.Action))

	case models.StatusReconnecting:
		if prev.Status == next.Status && prev.ReconnectAttempts == next.ReconnectAttempts {
			return
		}
		n.setDegraded(true)
		n.reconnecting(next.ReconnectAttempts)

	case models.StatusFailed:
		if prev.Status == next.Status {
			return
		}
		n.setDegraded(true)
		msg := "Unable to restore live updates after several attempts."
		if next.LastError != "" {
			msg = next.LastError
		}
		n.Notify(PrefixReconnect, models.NotificationError, "Connection Failed", msg, actionFor(models.ActionRefresh))

	case models.StatusRateLimited:
		if prev.Status == next.Status && prev.LastError == next.LastError {
			return
		}
		n.setDegraded(true)
		msg := "Too many connection attempts. Live updates will resume shortly."
		if next.LastError != "" {
			msg = next.LastError
		}
		n.Notify(PrefixRateLimit, models.NotificationWarning, "Connection Paused", msg, nil)

	case models.StatusConnected:
		if prev.Status == next.Status || prev.Status == models.StatusRequestingTicket {
			return
		}
		if n.setDegraded(false) {
			n.dismissPrefixes(PrefixError, PrefixReconnect, PrefixRateLimit)
			n.Notify(PrefixRestored, models.NotificationSuccess, "Connection Restored", "Live updates are back.", nil)
		}

	case models.StatusDisconnected:
		if prev.Status == models.StatusRateLimited {
			n.dismissPrefixes(PrefixRateLimit)
			n.Notify(PrefixInfo, models.NotificationInfo, "Ready To Reconnect", "The connection cooldown has ended.", nil)
		}
	}
}

func (n *Notifier) reconnecting(attempt int) {
	switch {
	case attempt <= 1:
		n.Notify(PrefixReconnect, models.NotificationWarning, "Connection Lost",
			"Live updates were interrupted. Reconnecting...", nil)
	case attempt == 2:
		n.logger.Debug("reconnect attempt without notification", "attempt", attempt)
	default:
		n.Notify(PrefixReconnect, models.NotificationError, "Connection Problems",
			fmt.Sprintf("Still unable to reconnect (attempt %d). Refresh the page if this persists.", attempt),
			actionFor(models.ActionRefresh))
	}
}

func (n *Notifier) dismissPrefixes(prefixes ...string) {
	n.mu.Lock()
	before := len(n.items)
	for _, p := range prefixes {
		n.removePrefixLocked(p)
	}
	changed := len(n.items) != before
	n.mu.Unlock()

	if changed {
		n.publish()
	}
}
