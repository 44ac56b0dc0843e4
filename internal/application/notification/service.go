package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/domain"
	"github.com/snaphub-notify/internal/infrastructure/events"
	"github.com/snaphub-notify/internal/pkg/id"
	"github.com/snaphub-notify/internal/pkg/metrics"
)

// RecordSource is the backend API the reconciler reads records from and
// deletes them through. credential is the caller's bearer token.
type RecordSource interface {
	ListBookings(ctx context.Context, credential, userID string) ([]domain.Booking, error)
	ListApplications(ctx context.Context, credential, userID string) ([]domain.Application, error)
	DeleteRecord(ctx context.Context, credential string, kind domain.Kind, primaryKey string) error
}

// ReadStateStore persists the per-user acknowledgement set and last-seen map.
type ReadStateStore interface {
	Load(ctx context.Context, userID string) (domain.ReadState, error)
	ReplaceLastSeen(ctx context.Context, userID string, snapshot map[string]string) error
	Acknowledge(ctx context.Context, userID string, statuses map[string]string) error
	Clear(ctx context.Context, userID string) error
}

// ChangePublisher receives the status transitions observed by a pass.
type ChangePublisher interface {
	PublishStatusChanges(ctx context.Context, changes []events.StatusChange) error
}

// Feed is a user's sorted notification list.
type Feed struct {
	Items       []domain.Notification `json:"notifications"`
	UnreadCount int                   `json:"unread_count"`
	// Skipped is set when another pass for the same user was in flight and
	// Items is the last computed list instead of a fresh one.
	Skipped bool `json:"skipped,omitempty"`
}

func newFeed(items []domain.Notification) Feed {
	out := make([]domain.Notification, len(items))
	copy(out, items)
	unread := 0
	for _, n := range out {
		if !n.IsRead {
			unread++
		}
	}
	return Feed{Items: out, UnreadCount: unread}
}

type Service interface {
	// Reconcile fetches both record sources, computes read state and persists
	// the fresh last-seen snapshot. On any error the returned feed is empty.
	Reconcile(ctx context.Context, userID, credential string) (Feed, error)
	// Current returns the list computed by the last successful pass.
	Current(userID string) Feed
	Acknowledge(ctx context.Context, userID, notificationID string) error
	AcknowledgeAll(ctx context.Context, userID string) error
	DeleteSource(ctx context.Context, userID, credential, notificationID string) error
	// EndSession discards the cached list and any pass still in flight.
	EndSession(userID string)
	ResetReadState(ctx context.Context, userID string) error
}

type ServiceDeps struct {
	Source    RecordSource
	Store     ReadStateStore
	Publisher ChangePublisher // optional
	Logger    *zap.Logger
}

type service struct {
	source    RecordSource
	store     ReadStateStore
	publisher ChangePublisher
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*userSession
}

func NewService(deps ServiceDeps) Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		source:    deps.Source,
		store:     deps.Store,
		publisher: deps.Publisher,
		logger:    logger.Named("notifications"),
		now:       time.Now,
		sessions:  make(map[string]*userSession),
	}
}

func (s *service) session(userID string) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = newUserSession()
		s.sessions[userID] = sess
	}
	return sess
}

func (s *service) lookup(userID string) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// lockSession blocks until it holds the slot of the user's live session.
func (s *service) lockSession(ctx context.Context, userID string) (*userSession, error) {
	for {
		sess := s.session(userID)
		if err := sess.acquire(ctx); err != nil {
			return nil, err
		}
		if !sess.isRetired() {
			return sess, nil
		}
		sess.release()
	}
}

// tryLockSession is lockSession without waiting. On false the returned
// session is the busy one.
func (s *service) tryLockSession(userID string) (*userSession, bool) {
	for {
		sess := s.session(userID)
		if !sess.tryAcquire() {
			return sess, false
		}
		if !sess.isRetired() {
			return sess, true
		}
		sess.release()
	}
}

// evict drops sess from the table. The caller holds its slot.
func (s *service) evict(userID string, sess *userSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[userID] == sess {
		delete(s.sessions, userID)
	}
	sess.retire()
}

func (s *service) Reconcile(ctx context.Context, userID, credential string) (Feed, error) {
	start := s.now()
	if credential == "" {
		metrics.RecordPass(metrics.OutcomeAuth, 0)
		return newFeed(nil), fmt.Errorf("reconcile %s: %w", userID, domain.ErrAuth)
	}

	sess, ok := s.tryLockSession(userID)
	if !ok {
		metrics.RecordPass(metrics.OutcomeSkipped, 0)
		feed := sess.snapshot()
		feed.Skipped = true
		return feed, nil
	}
	defer sess.release()

	gen := sess.currentGeneration()
	log := s.logger.With(zap.String("user_id", userID), zap.String("pass_id", id.New()))

	fail := func(outcome string, err error) (Feed, error) {
		metrics.RecordPass(outcome, s.now().Sub(start))
		switch {
		case outcome != metrics.OutcomeSessionEnded:
			sess.clear()
		case sess.currentGeneration() != gen:
			s.evict(userID, sess)
		}
		log.Warn("reconcile failed", zap.String("outcome", outcome), zap.Error(err))
		return newFeed(nil), err
	}

	bookings, err := s.source.ListBookings(ctx, credential, userID)
	if err != nil {
		return fail(fetchFailure(err, "bookings"))
	}
	apps, err := s.source.ListApplications(ctx, credential, userID)
	if err != nil {
		return fail(fetchFailure(err, "applications"))
	}
	state, err := s.store.Load(ctx, userID)
	if err != nil {
		return fail(metrics.OutcomeStoreFailed, fmt.Errorf("load read state: %w", err))
	}

	items := merge(bookings, apps, log)
	snapshot := make(map[string]string, len(items))
	var changes []events.StatusChange
	observedAt := s.now().UTC()
	for i := range items {
		n := &items[i]
		n.IsRead = state.IsRead(n.ID, n.Status)
		if prev, ok := state.LastSeen[n.ID]; ok && prev != n.Status {
			changes = append(changes, events.StatusChange{
				UserID:     userID,
				ID:         n.ID,
				Kind:       n.Kind,
				From:       prev,
				To:         n.Status,
				ObservedAt: observedAt,
			})
		}
		snapshot[n.ID] = n.Status
	}

	// Results belong to whoever held the session at fetch start; drop them if
	// that session is gone.
	if ctx.Err() != nil || sess.currentGeneration() != gen {
		return fail(metrics.OutcomeSessionEnded, domain.ErrSessionEnded)
	}
	if err := s.store.ReplaceLastSeen(ctx, userID, snapshot); err != nil {
		return fail(metrics.OutcomeStoreFailed, fmt.Errorf("persist last seen: %w", err))
	}
	if !sess.publish(gen, items) {
		return fail(metrics.OutcomeSessionEnded, domain.ErrSessionEnded)
	}

	feed := newFeed(items)
	metrics.RecordPass(metrics.OutcomeOK, s.now().Sub(start))
	metrics.RecordUnread(feed.UnreadCount)
	log.Debug("reconciled",
		zap.Int("bookings", len(bookings)),
		zap.Int("applications", len(apps)),
		zap.Int("unread", feed.UnreadCount),
		zap.Int("changes", len(changes)))

	if len(changes) > 0 && s.publisher != nil {
		if err := s.publisher.PublishStatusChanges(ctx, changes); err != nil {
			log.Warn("publish status changes", zap.Error(err))
		}
	}
	return feed, nil
}

// fetchFailure classifies a record-source error. A rejected credential is an
// auth failure; anything else is a fetch failure.
func fetchFailure(err error, what string) (string, error) {
	if errors.Is(err, domain.ErrUnauthorized) {
		return metrics.OutcomeAuth, fmt.Errorf("fetch %s: %w: %w", what, domain.ErrAuth, err)
	}
	return metrics.OutcomeFetchFailed, fmt.Errorf("fetch %s: %w: %w", what, domain.ErrFetch, err)
}

// merge derives notifications from both sources, drops records without a
// usable key and duplicates, and sorts newest first.
func merge(bookings []domain.Booking, apps []domain.Application, log *zap.Logger) []domain.Notification {
	items := make([]domain.Notification, 0, len(bookings)+len(apps))
	seen := make(map[string]struct{}, cap(items))
	add := func(n domain.Notification) {
		if n.NotificationID().PrimaryKey == "" {
			log.Warn("skipping record without primary key", zap.String("type", string(n.Kind)))
			return
		}
		if _, dup := seen[n.ID]; dup {
			return
		}
		seen[n.ID] = struct{}{}
		items = append(items, n)
	}
	for _, b := range bookings {
		add(domain.FromBooking(b))
	}
	for _, a := range apps {
		add(domain.FromApplication(a))
	}
	sort.SliceStable(items, func(i, j int) bool { return domain.Newer(items[i], items[j]) })
	return items
}

func (s *service) Current(userID string) Feed {
	sess := s.lookup(userID)
	if sess == nil {
		return newFeed(nil)
	}
	return sess.snapshot()
}

// Acknowledge marks one notification read at its current status. Ids not in
// the last computed list are ignored.
func (s *service) Acknowledge(ctx context.Context, userID, notificationID string) error {
	sess, err := s.lockSession(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.release()

	n, ok := sess.find(notificationID)
	if !ok {
		return nil
	}
	statuses := map[string]string{n.ID: n.Status}
	if err := s.store.Acknowledge(ctx, userID, statuses); err != nil {
		return fmt.Errorf("acknowledge %s: %w", notificationID, err)
	}
	sess.setRead(statuses, true)
	return nil
}

func (s *service) AcknowledgeAll(ctx context.Context, userID string) error {
	sess, err := s.lockSession(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.release()

	statuses := sess.statuses()
	if len(statuses) == 0 {
		return nil
	}
	if err := s.store.Acknowledge(ctx, userID, statuses); err != nil {
		return fmt.Errorf("acknowledge all: %w", err)
	}
	sess.setRead(statuses, true)
	return nil
}

// DeleteSource deletes the record behind a notification on the backend and
// drops it from the cached list whether or not the backend accepted it. A
// failed delete is corrected by the next pass.
func (s *service) DeleteSource(ctx context.Context, userID, credential, notificationID string) error {
	nid, err := domain.ParseNotificationID(notificationID)
	if err != nil {
		return err
	}
	sess, err := s.lockSession(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.release()

	var deleteErr error
	if credential == "" {
		deleteErr = domain.ErrAuth
	} else {
		deleteErr = s.source.DeleteRecord(ctx, credential, nid.Kind, nid.PrimaryKey)
	}
	metrics.RecordSourceDelete(string(nid.Kind), deleteErr == nil)
	sess.remove(notificationID)

	if deleteErr != nil {
		s.logger.Warn("backend delete failed",
			zap.String("user_id", userID),
			zap.String("id", notificationID),
			zap.Error(deleteErr))
		return fmt.Errorf("delete %s: %w: %w", notificationID, domain.ErrDeleteFailed, deleteErr)
	}
	return nil
}

// EndSession invalidates the user's session. An idle session is dropped from
// the table at once; a busy one is dropped by the next pass holding it that
// observes the ended session.
func (s *service) EndSession(userID string) {
	sess := s.lookup(userID)
	if sess == nil {
		return
	}
	sess.end()
	if sess.tryAcquire() {
		s.evict(userID, sess)
		sess.release()
	}
}

// ResetReadState clears a user's persisted read state. Cached items revert
// to unread.
func (s *service) ResetReadState(ctx context.Context, userID string) error {
	sess, err := s.lockSession(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.release()

	if err := s.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("reset read state: %w", err)
	}
	if sess.empty() {
		s.evict(userID, sess)
		return nil
	}
	sess.setAllRead(false)
	return nil
}
