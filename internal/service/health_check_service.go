package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zzenonn/zdav/internal/arr"
	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/telemetry"
)

const (
	// DefaultRecheckInterval schedules items whose release date gives no
	// usable interval.
	DefaultRecheckInterval = 24 * time.Hour

	defaultDelay            = 5 * time.Second
	defaultProgressInterval = 200 * time.Millisecond

	// actionNeededRefresh is how long the cached ActionNeeded set is used
	// before the results table is read again. Results written by other
	// processes show up within this window.
	actionNeededRefresh = 10 * time.Minute
)

// ItemRepository is the item store the health check reads and updates.
type ItemRepository interface {
	ListCheckableItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	UpdateHealthSchedule(ctx context.Context, item domain.Item) error
	DeleteItem(ctx context.Context, id string) error
}

// HealthCheckRepository is the append-only health check audit log.
type HealthCheckRepository interface {
	AddResult(ctx context.Context, result domain.HealthCheckResult) error
	ListActionNeededItemIDs(ctx context.Context) (map[string]struct{}, error)
}

// SegmentChecker verifies segments through every configured provider.
type SegmentChecker interface {
	CheckAllSegments(ctx context.Context, segmentIDs []string, concurrency int, progress func(int)) error
	GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error)
}

// SymlinkLocator finds library symlinks pointing at items.
type SymlinkLocator interface {
	FindSymlink(itemID string) (string, error)
	Remove(path string) error
}

type HealthCheckOptions struct {
	Enabled              bool
	MaxRepairConnections int
	IdleDelay            time.Duration
	ErrorDelay           time.Duration
	ProgressInterval     time.Duration
}

// HealthCheckService walks the item store, verifies that every segment of
// each due item still exists and repairs items that lost segments.
type HealthCheckService struct {
	items    ItemRepository
	results  HealthCheckRepository
	segments SegmentChecker
	locator  SymlinkLocator
	arrs     []arr.Client
	sink     telemetry.Sink
	opts     HealthCheckOptions

	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	excludedMu      sync.Mutex
	excluded        map[string]struct{}
	excludedFetched time.Time
}

func NewHealthCheckService(
	items ItemRepository,
	results HealthCheckRepository,
	segments SegmentChecker,
	locator SymlinkLocator,
	arrs []arr.Client,
	sink telemetry.Sink,
	opts HealthCheckOptions,
) *HealthCheckService {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = defaultDelay
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = defaultDelay
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	return &HealthCheckService{
		items:    items,
		results:  results,
		segments: segments,
		locator:  locator,
		arrs:     arrs,
		sink:     sink,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (s *HealthCheckService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels the loop and waits for the in-flight check to unwind.
func (s *HealthCheckService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run checks one due item after another until ctx is cancelled. Errors never
// end the loop.
func (s *HealthCheckService) Run(ctx context.Context) {
	log.Info("health check loop started")
	defer log.Info("health check loop stopped")

	for ctx.Err() == nil {
		if !s.opts.Enabled {
			sleep(ctx, s.opts.IdleDelay)
			continue
		}

		checked, err := s.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.WithError(err).Error("unexpected error performing background health checks")
			sleep(ctx, s.opts.ErrorDelay)
		case !checked:
			sleep(ctx, s.opts.IdleDelay)
		}
	}
}

// RunOnce checks the first due item, if any, and reports whether it did.
func (s *HealthCheckService) RunOnce(ctx context.Context) (bool, error) {
	item, ok, err := s.NextItem(ctx)
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.PerformHealthCheck(ctx, item); err != nil {
		return true, err
	}
	return true, nil
}

// NextItem returns the first item of the queue that is due now.
func (s *HealthCheckService) NextItem(ctx context.Context) (domain.Item, bool, error) {
	items, err := s.items.ListCheckableItems(ctx)
	if err != nil {
		return domain.Item{}, false, err
	}
	excluded, err := s.actionNeeded(ctx)
	if err != nil {
		return domain.Item{}, false, err
	}

	now := s.now()
	for _, item := range Queue(items, excluded) {
		if item.IsDue(now) {
			return item, true, nil
		}
	}
	return domain.Item{}, false, nil
}

// actionNeeded returns a snapshot of the ids of items that await manual
// action, read from the results table at most once per refresh window.
func (s *HealthCheckService) actionNeeded(ctx context.Context) (map[string]struct{}, error) {
	s.excludedMu.Lock()
	defer s.excludedMu.Unlock()

	now := s.now()
	if s.excluded == nil || now.Sub(s.excludedFetched) >= actionNeededRefresh {
		ids, err := s.results.ListActionNeededItemIDs(ctx)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = make(map[string]struct{})
		}
		s.excluded, s.excludedFetched = ids, now
	}
	return maps.Clone(s.excluded), nil
}

func (s *HealthCheckService) markActionNeeded(itemID string) {
	s.excludedMu.Lock()
	defer s.excludedMu.Unlock()
	if s.excluded != nil {
		s.excluded[itemID] = struct{}{}
	}
}

// Queue orders checkable items for health checking: unscheduled items first,
// then by next check ascending, newest release first, then by id. Items in
// excluded are left out.
func Queue(items []domain.Item, excluded map[string]struct{}) []domain.Item {
	queue := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if !item.IsCheckable() {
			continue
		}
		if _, skip := excluded[item.ID]; skip {
			continue
		}
		queue = append(queue, item)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if c := compareTimes(a.NextHealthCheck, b.NextHealthCheck); c != 0 {
			return c < 0
		}
		if c := compareTimes(a.ReleaseDate, b.ReleaseDate); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})
	return queue
}

// compareTimes orders nil before any time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// CheckItem runs one health check for the stored item with the given id.
func (s *HealthCheckService) CheckItem(ctx context.Context, id string) (domain.HealthCheckResult, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return domain.HealthCheckResult{}, err
	}
	if !item.IsCheckable() {
		return domain.HealthCheckResult{}, fmt.Errorf("%w: health check of %s items", zerrors.ErrNotSupported, item.Type)
	}
	return s.PerformHealthCheck(ctx, item)
}

// PerformHealthCheck verifies every segment of item and records the outcome.
// A cancelled check and infrastructure errors return an error and record
// nothing.
func (s *HealthCheckService) PerformHealthCheck(ctx context.Context, item domain.Item) (domain.HealthCheckResult, error) {
	concurrency := s.opts.MaxRepairConnections
	if concurrency < 1 {
		concurrency = 1
	}
	ctx = connections.WithConnectionLimit(ctx, concurrency)

	logger := log.WithFields(log.Fields{"item": item.ID, "path": item.Path})
	segmentIDs := item.AllSegmentIDs()

	err := s.updateReleaseDate(ctx, &item, segmentIDs)
	if err == nil {
		err = s.segments.CheckAllSegments(ctx, segmentIDs, concurrency, s.progressReporter(item.ID, len(segmentIDs)))
	}

	if ctx.Err() != nil {
		return domain.HealthCheckResult{}, ctx.Err()
	}
	if err != nil && !errors.Is(err, zerrors.ErrArticleNotFound) {
		return domain.HealthCheckResult{}, err
	}

	s.sink.HealthProgress(item.ID, "100")
	s.sink.HealthProgress(item.ID, telemetry.ProgressDone)

	if err != nil {
		logger.WithError(err).Warn("file has missing articles, starting repair")
		return s.repair(ctx, item)
	}

	now := s.now()
	next := NextHealthCheck(item.ReleaseDate, now)
	item.LastHealthCheck = &now
	item.NextHealthCheck = &next
	if err := s.items.UpdateHealthSchedule(ctx, item); err != nil {
		return domain.HealthCheckResult{}, err
	}

	logger.WithField("next_check", next).Debug("file is healthy")
	return s.record(ctx, item, domain.Healthy, domain.RepairNone, "File is healthy.")
}

// NextHealthCheck is release + 2*(now - release): the interval grows with the
// age of the release. Without a release date, or when the rule lands in the
// past, the item is checked again after DefaultRecheckInterval.
func NextHealthCheck(release *time.Time, now time.Time) time.Time {
	if release == nil {
		return now.Add(DefaultRecheckInterval)
	}
	next := release.Add(2 * now.Sub(*release))
	if next.Before(now) {
		return now.Add(DefaultRecheckInterval)
	}
	return next
}

func (s *HealthCheckService) updateReleaseDate(ctx context.Context, item *domain.Item, segmentIDs []string) error {
	if item.ReleaseDate != nil || len(segmentIDs) == 0 || segmentIDs[0] == "" {
		return nil
	}
	headers, err := s.segments.GetArticleHeaders(ctx, segmentIDs[0])
	if err != nil {
		return err
	}
	if headers.Date.IsZero() {
		return nil
	}
	release := headers.Date.UTC()
	item.ReleaseDate = &release
	return s.items.UpdateHealthSchedule(ctx, *item)
}

// progressReporter reports the share of checked segments as a percentage, at
// most once per progress interval.
func (s *HealthCheckService) progressReporter(itemID string, total int) func(int) {
	if total == 0 {
		return nil
	}
	debounce := &rate.Sometimes{Interval: s.opts.ProgressInterval}
	return func(checked int) {
		debounce.Do(func() {
			s.sink.HealthProgress(itemID, strconv.Itoa(checked*100/total))
		})
	}
}

func (s *HealthCheckService) repair(ctx context.Context, item domain.Item) (domain.HealthCheckResult, error) {
	result, err := s.tryRepair(ctx, item)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return domain.HealthCheckResult{}, ctx.Err()
	}

	log.WithField("item", item.ID).WithError(err).Error("error performing file repair")
	now := s.now()
	item.LastHealthCheck = &now
	item.NextHealthCheck = nil
	if err := s.items.UpdateHealthSchedule(ctx, item); err != nil && !errors.Is(err, zerrors.ErrItemNotFound) {
		return domain.HealthCheckResult{}, err
	}
	return s.record(ctx, item, domain.Unhealthy, domain.RepairActionNeeded, "Error performing file repair: "+err.Error())
}

func (s *HealthCheckService) tryRepair(ctx context.Context, item domain.Item) (domain.HealthCheckResult, error) {
	symlink, err := s.locator.FindSymlink(item.ID)
	if err != nil {
		return domain.HealthCheckResult{}, err
	}

	// unlinked items are simply deleted
	if symlink == "" {
		if err := s.items.DeleteItem(ctx, item.ID); err != nil {
			return domain.HealthCheckResult{}, err
		}
		return s.record(ctx, item, domain.Unhealthy, domain.RepairDeleted, joinMessage(
			"File had missing articles",
			"Could not find corresponding symlink within Library Dir.",
			"Deleted file.",
		))
	}

	owner, err := arr.Owner(ctx, s.arrs, symlink)
	if err != nil {
		return domain.HealthCheckResult{}, err
	}
	if owner != nil {
		searched, err := owner.RemoveAndSearch(ctx, symlink)
		if err != nil {
			return domain.HealthCheckResult{}, err
		}
		if searched {
			if err := s.items.DeleteItem(ctx, item.ID); err != nil {
				return domain.HealthCheckResult{}, err
			}
			return s.record(ctx, item, domain.Unhealthy, domain.RepairRepaired, joinMessage(
				"File had missing articles.",
				"Corresponding symlink found within Library Dir.",
				"Triggered new Arr search.",
			))
		}
	}

	// nobody can search for a replacement, drop the link and the item
	if err := s.locator.Remove(symlink); err != nil {
		return domain.HealthCheckResult{}, err
	}
	if err := s.items.DeleteItem(ctx, item.ID); err != nil {
		return domain.HealthCheckResult{}, err
	}
	return s.record(ctx, item, domain.Unhealthy, domain.RepairDeleted, joinMessage(
		"File had missing articles.",
		"Corresponding symlink found within Library Dir.",
		"Could not find corresponding Radarr/Sonarr media-item to trigger a new search.",
		"Deleted file.",
	))
}

func (s *HealthCheckService) record(
	ctx context.Context,
	item domain.Item,
	result domain.HealthResult,
	action domain.RepairAction,
	message string,
) (domain.HealthCheckResult, error) {
	entry := domain.HealthCheckResult{
		ID:           s.newID(),
		ItemID:       item.ID,
		Path:         item.Path,
		CreatedAt:    s.now(),
		Result:       result,
		RepairStatus: action,
		Message:      message,
	}
	if err := s.results.AddResult(ctx, entry); err != nil {
		return domain.HealthCheckResult{}, err
	}
	if action == domain.RepairActionNeeded {
		s.markActionNeeded(item.ID)
	}
	s.sink.HealthStatus(item.ID, result, action)

	log.WithFields(log.Fields{
		"item":   item.ID,
		"result": result,
		"action": action,
	}).Info(message)
	return entry, nil
}

func joinMessage(parts ...string) string {
	return strings.Join(parts, " ")
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
