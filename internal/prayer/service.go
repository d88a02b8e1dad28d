package prayer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"maktaba-api/internal/cache"
	"maktaba-api/internal/cachekey"
	"maktaba-api/internal/location"
	"maktaba-api/internal/model"
)

// Event names delivered to subscribers on every state-affecting transition.
type Event string

const (
	EventLoading            Event = "loading"
	EventInitialized        Event = "initialized"
	EventRefreshed          Event = "refreshed"
	EventTick               Event = "tick"
	EventLocationUpdated    Event = "location-updated"
	EventPrayerTimesUpdated Event = "prayer-times-updated"
	EventError              Event = "error"
	EventVisibilityChange   Event = "visibility-change"
)

// Listener receives a state snapshot and the event that produced it.
type Listener func(Snapshot, Event)

// ServiceConfig holds oracle policy.
type ServiceConfig struct {
	// StaleAfter is the schedule age past which a cache hit still serves
	// but fires a background refresh.
	StaleAfter time.Duration
	// TickInterval drives the next-prayer countdown.
	TickInterval time.Duration
	// DateCheckInterval drives the midnight-rollover detector.
	DateCheckInterval time.Duration
	// EndOfDayBuffer pads the schedule TTL past local midnight.
	EndOfDayBuffer time.Duration
}

func (c *ServiceConfig) withDefaults() ServiceConfig {
	out := *c
	if out.StaleAfter <= 0 {
		out.StaleAfter = 20 * time.Hour
	}
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	if out.DateCheckInterval <= 0 {
		out.DateCheckInterval = time.Minute
	}
	if out.EndOfDayBuffer <= 0 {
		out.EndOfDayBuffer = 5 * time.Minute
	}
	return out
}

// Snapshot is a pure read of the oracle's state: no I/O, safe to render.
type Snapshot struct {
	Location      *model.Location `json:"location,omitempty"`
	Schedule      *model.Schedule `json:"schedule,omitempty"`
	ScheduleDate  string          `json:"schedule_date,omitempty"`
	NextPrayer    *model.NextPrayer `json:"next_prayer,omitempty"`
	Loading       bool            `json:"loading"`
	Error         string          `json:"error,omitempty"`
	LocationLabel string          `json:"location_label,omitempty"`
	CountdownText string          `json:"countdown_text,omitempty"`
}

// Service is the prayer-times oracle: the long-lived state source the UI
// subscribes to. Construct it explicitly and own its lifecycle from the
// composition root; Close tears down every timer and listener.
type Service struct {
	cfg      ServiceConfig
	cache    *cache.Tiered
	resolver *location.Resolver
	client   *Client

	initGroup singleflight.Group

	mu        sync.RWMutex
	inited    bool
	loading   bool
	lastErr   string
	loc       *model.Location
	schedule  *model.CachedSchedule
	next      *model.NextPrayer
	listeners map[int]Listener
	nextID    int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is swapped in tests to drive the clock deterministically.
	now func() time.Time
}

// NewService creates the oracle. Call Init before reading state.
func NewService(cfg ServiceConfig, c *cache.Tiered, resolver *location.Resolver, client *Client) *Service {
	s := &Service{
		cfg:       cfg.withDefaults(),
		cache:     c,
		resolver:  resolver,
		client:    client,
		listeners: make(map[int]Listener),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
	resolver.OnEnriched(s.handleEnriched)
	return s
}

// Init resolves the location, fetches today's schedule, computes the next
// prayer and starts the tick and date-rollover loops. Idempotent;
// concurrent callers share one in-flight attempt. A schedule-fetch failure
// is returned, but the service still comes up with whatever state it has.
func (s *Service) Init(ctx context.Context) error {
	s.mu.RLock()
	inited := s.inited
	s.mu.RUnlock()
	if inited {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		return nil, s.initialize(ctx)
	})
	return err
}

func (s *Service) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.inited {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()
	s.notify(EventLoading)

	loc := s.resolver.Resolve(ctx, location.ResolveOptions{})
	s.mu.Lock()
	s.loc = &loc
	s.mu.Unlock()
	s.notify(EventLocationUpdated)

	fetchErr := s.loadSchedule(ctx, loc, false)

	s.mu.Lock()
	s.loading = false
	s.inited = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.tickLoop()
	go s.dateWatchLoop()

	s.notify(EventInitialized)
	return fetchErr
}

// loadSchedule fetches (or replays from cache) the schedule for loc and
// recomputes the next prayer. On failure the previous schedule, if any,
// stays in place so the UI keeps rendering stale-but-real data.
func (s *Service) loadSchedule(ctx context.Context, loc model.Location, force bool) error {
	cs, err := s.fetchSchedule(ctx, loc, force)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.notify(EventError)
		return err
	}

	s.mu.Lock()
	s.schedule = cs
	s.lastErr = ""
	s.next = nextPrayer(&cs.PrayerTimes, s.now())
	s.mu.Unlock()
	s.notify(EventPrayerTimesUpdated)
	return nil
}

// fetchSchedule implements the cache protocol: key by rounded coordinates,
// local calendar date and location quality (a fallback-location schedule
// never collides with a real-GPS one); a hit is only a hit when its stored
// date is still today; an aging hit fires a background refresh.
func (s *Service) fetchSchedule(ctx context.Context, loc model.Location, force bool) (*model.CachedSchedule, error) {
	today := s.localDate()
	key := cachekey.MakeLocation(cachekey.NamespacePrayer,
		loc.Latitude, loc.Longitude, today, string(loc.Quality))

	if !force {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var cs model.CachedSchedule
			if err := json.Unmarshal(data, &cs); err == nil && cs.Date == today {
				if s.now().Sub(cs.FetchedAt) > s.cfg.StaleAfter {
					s.refreshInBackground(loc)
				}
				return &cs, nil
			}
		}
	}

	now := s.now()
	schedule, err := s.client.Timings(ctx, now, loc.Latitude, loc.Longitude)
	if err != nil {
		return nil, err
	}

	cs := &model.CachedSchedule{
		Date:        today,
		FetchedAt:   now,
		PrayerTimes: schedule,
		Location: model.ScheduleLocation{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Quality:   loc.Quality,
		},
	}

	data, err := json.Marshal(cs)
	if err != nil {
		return nil, &ScheduleFetchError{Err: err}
	}
	_ = s.cache.Set(ctx, key, data, s.scheduleTTL(now))
	return cs, nil
}

// scheduleTTL computes "time until local end-of-day + buffer, minimum one
// minute". Local midnight comes from the wall clock's own zone, so DST
// transitions cannot truncate the entry early.
func (s *Service) scheduleTTL(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	ttl := midnight.Sub(now) + s.cfg.EndOfDayBuffer
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func (s *Service) localDate() string {
	return s.now().Format("2006-01-02")
}

// refreshInBackground re-fetches the schedule as a detached task. Failures
// are logged; the cached schedule keeps serving.
func (s *Service) refreshInBackground(loc model.Location) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PrayerService] Background refresh panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.loadSchedule(ctx, loc, true); err != nil {
			log.Printf("[PrayerService] Background refresh failed: %v", err)
		}
	}()
}

// Refresh forces a full re-resolution and re-fetch.
func (s *Service) Refresh(ctx context.Context) error {
	loc := s.resolver.Resolve(ctx, location.ResolveOptions{ForceRefresh: true})
	s.mu.Lock()
	s.loc = &loc
	s.mu.Unlock()
	s.notify(EventLocationUpdated)

	err := s.loadSchedule(ctx, loc, true)
	if err == nil {
		s.notify(EventRefreshed)
	}
	return err
}

// Wake is the visibility-change hook: a consumer coming back to the
// foreground re-checks the calendar day and schedule freshness.
func (s *Service) Wake(ctx context.Context) {
	s.notify(EventVisibilityChange)
	s.checkDateRollover(ctx)

	s.mu.RLock()
	cs := s.schedule
	loc := s.loc
	s.mu.RUnlock()
	if cs != nil && loc != nil && s.now().Sub(cs.FetchedAt) > s.cfg.StaleAfter {
		s.refreshInBackground(*loc)
	}
}

// handleEnriched receives the asynchronous geocoding result.
func (s *Service) handleEnriched(loc model.Location) {
	s.mu.Lock()
	if s.loc != nil && s.loc.Latitude == loc.Latitude && s.loc.Longitude == loc.Longitude {
		s.loc.City = loc.City
		s.loc.Country = loc.Country
	}
	s.mu.Unlock()
	s.notify(EventLocationUpdated)
}

func (s *Service) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.schedule != nil {
				s.next = nextPrayer(&s.schedule.PrayerTimes, s.now())
			}
			s.mu.Unlock()
			s.notify(EventTick)
		case <-s.stop:
			return
		}
	}
}

// dateWatchLoop invalidates the prayer namespace and re-fetches when the
// calendar day rolls over. A process left running across midnight must not
// keep serving yesterday's times.
func (s *Service) dateWatchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DateCheckInterval)
	defer ticker.Stop()

	lastDate := s.localDate()
	for {
		select {
		case <-ticker.C:
			if today := s.localDate(); today != lastDate {
				lastDate = today
				log.Printf("[PrayerService] Date rollover detected: %s", today)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.rollover(ctx)
				cancel()
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Service) checkDateRollover(ctx context.Context) {
	s.mu.RLock()
	cs := s.schedule
	s.mu.RUnlock()
	if cs != nil && cs.Date != s.localDate() {
		s.rollover(ctx)
	}
}

func (s *Service) rollover(ctx context.Context) {
	if err := s.cache.InvalidateNamespace(ctx, cachekey.NamespacePrayer); err != nil {
		log.Printf("[PrayerService] Warning: rollover invalidation failed: %v", err)
	}

	s.mu.RLock()
	loc := s.loc
	s.mu.RUnlock()
	if loc == nil {
		return
	}
	if err := s.loadSchedule(ctx, *loc, true); err != nil {
		log.Printf("[PrayerService] Rollover re-fetch failed: %v", err)
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (s *Service) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(event Event) {
	snap := s.State()

	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snap, event)
	}
}

// State returns a pure snapshot of the oracle.
func (s *Service) State() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Loading: s.loading,
		Error:   s.lastErr,
	}
	if s.loc != nil {
		loc := *s.loc
		snap.Location = &loc
		snap.LocationLabel = locationLabel(loc)
	}
	if s.schedule != nil {
		sched := s.schedule.PrayerTimes
		snap.Schedule = &sched
		snap.ScheduleDate = s.schedule.Date
	}
	if s.next != nil {
		next := *s.next
		snap.NextPrayer = &next
		snap.CountdownText = countdownText(next)
	}
	return snap
}

// Close stops the tick and date loops and detaches all listeners. No
// callbacks fire after Close returns.
func (s *Service) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()

	s.mu.Lock()
	s.listeners = make(map[int]Listener)
	s.mu.Unlock()
	return nil
}

// nextPrayer scans the fixed order Fajr..Isha for the first time past now,
// wrapping to tomorrow's Fajr after Isha.
func nextPrayer(schedule *model.Schedule, now time.Time) *model.NextPrayer {
	current := now.Hour()*60 + now.Minute()
	times := schedule.Times()

	for i, name := range model.PrayerNames {
		minutes, err := minutesOfDay(times[i])
		if err != nil {
			log.Printf("[PrayerService] Warning: unparseable time %q for %s: %v", times[i], name, err)
			continue
		}
		if minutes > current {
			return &model.NextPrayer{Name: name, Time: times[i], ETAMinutes: minutes - current}
		}
	}

	fajr, err := minutesOfDay(schedule.Fajr)
	if err != nil {
		return nil
	}
	return &model.NextPrayer{
		Name:       model.PrayerNames[0],
		Time:       schedule.Fajr,
		ETAMinutes: (24*60 - current) + fajr,
	}
}

// minutesOfDay parses "HH:MM" into minutes since midnight.
func minutesOfDay(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("missing ':' in %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, err
	}
	mins, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	if hours < 0 || hours > 23 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("out of range: %q", s)
	}
	return hours*60 + mins, nil
}

func locationLabel(loc model.Location) string {
	switch {
	case loc.City != "" && loc.Country != "":
		return loc.City + ", " + loc.Country
	case loc.Quality == model.QualityFallback:
		return "Default location"
	default:
		return fmt.Sprintf("%.4f, %.4f", loc.Latitude, loc.Longitude)
	}
}

func countdownText(next model.NextPrayer) string {
	h := next.ETAMinutes / 60
	m := next.ETAMinutes % 60
	if h == 0 {
		return fmt.Sprintf("%s in %dm", next.Name, m)
	}
	return fmt.Sprintf("%s in %dh %dm", next.Name, h, m)
}
