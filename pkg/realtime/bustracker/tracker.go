package bustracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// RouteLookup answers the current day's stop list for a bus. Implemented by
// the directory package, assumed static for the lifetime of one journey.
type RouteLookup interface {
	RouteForBus(ctx context.Context, busIdentifier string) (*sbdf.RouteSnapshot, error)
}

// EventSink receives classified events and refreshed snapshots. Implemented
// by the fan-out dispatcher; implementations must not block the caller on
// outbound delivery.
type EventSink interface {
	DispatchEvent(event *sbdf.Event, snapshot *sbdf.JourneySnapshot)
	DispatchLocationUpdate(snapshot *sbdf.JourneySnapshot)
}

// Tracker owns one worker goroutine per actively tracked bus. All mutation
// of a bus's journey state goes through its worker's command channel, which
// serializes location updates, driver commands, idle eviction and snapshot
// reads for that bus. Different buses proceed independently.
type Tracker struct {
	mutex   sync.RWMutex
	workers map[string]*busWorker

	routes RouteLookup
	sink   EventSink

	config TrackerConfig
}

func NewTracker(routes RouteLookup, sink EventSink, config TrackerConfig) *Tracker {
	return &Tracker{
		workers: map[string]*busWorker{},

		routes: routes,
		sink:   sink,

		config: config,
	}
}

// StartTracking creates the journey state for a bus. Starting a bus that is
// already tracking is a no-op so a reconnecting driver app cannot wipe a
// journey in progress.
func (t *Tracker) StartTracking(ctx context.Context, busIdentifier string) error {
	if _, err := t.worker(busIdentifier); err == nil {
		return nil
	}

	// Fetched outside the lock so a slow lookup for one bus cannot stall
	// updates for the rest of the fleet
	route, err := t.routes.RouteForBus(ctx, busIdentifier)
	if err != nil {
		return fmt.Errorf("failed to fetch route for bus %s: %w", busIdentifier, err)
	}

	worker := &busWorker{
		busIdentifier: busIdentifier,

		journey:    NewBusJourney(busIdentifier, route, time.Now(), t.config),
		classifier: NewClassifier(t.config),

		commands: make(chan func(), 64),
		done:     make(chan struct{}),

		tracker: t,
	}

	t.mutex.Lock()
	if _, exists := t.workers[busIdentifier]; exists {
		// Another start for the same bus won the race while the route was
		// being fetched
		t.mutex.Unlock()
		return nil
	}
	t.workers[busIdentifier] = worker
	t.mutex.Unlock()

	go worker.run()

	log.Info().
		Str("bus", busIdentifier).
		Str("route", route.PrimaryIdentifier).
		Msg("Started tracking bus")

	return nil
}

// EndTracking completes and evicts a bus's journey
func (t *Tracker) EndTracking(busIdentifier string) error {
	worker, err := t.worker(busIdentifier)
	if err != nil {
		return err
	}

	worker.submit(func() {
		worker.journey.TransitionTo(sbdf.JourneyStatusCompleted, time.Now())
		worker.stop()
	})

	return nil
}

// SubmitLocation queues a driver location update for classification. Stale
// or malformed updates are dropped inside the worker and logged, they never
// surface back to the transport.
func (t *Tracker) SubmitLocation(busIdentifier string, location sbdf.Location, speed float64, heading float64, recordedAt time.Time) error {
	worker, err := t.worker(busIdentifier)
	if err != nil {
		return err
	}

	worker.submit(func() {
		events, err := worker.classifier.ClassifyLocationUpdate(worker.journey, location, speed, heading, recordedAt)
		if err != nil {
			log.Debug().Err(err).Str("bus", busIdentifier).Msg("Dropped location update")
			return
		}

		worker.resetIdleTimer()

		snapshot := worker.journey.Snapshot()
		t.sink.DispatchLocationUpdate(snapshot)

		for _, event := range events {
			t.sink.DispatchEvent(event, snapshot)
		}

		if worker.journey.Status == sbdf.JourneyStatusCompleted {
			worker.stop()
		}
	})

	return nil
}

// ReportEmergency bypasses geo-fence logic entirely
func (t *Tracker) ReportEmergency(busIdentifier string, detail string) error {
	worker, err := t.worker(busIdentifier)
	if err != nil {
		return err
	}

	worker.submit(func() {
		event := worker.classifier.ClassifyEmergency(worker.journey, detail, time.Now())
		t.sink.DispatchEvent(event, worker.journey.Snapshot())
	})

	return nil
}

// Snapshot answers the cold-start query and the on-subscribe push. Returns
// UnknownBusError when the bus has no active journey.
func (t *Tracker) Snapshot(busIdentifier string) (*sbdf.JourneySnapshot, error) {
	worker, err := t.worker(busIdentifier)
	if err != nil {
		return nil, err
	}

	response := make(chan *sbdf.JourneySnapshot, 1)
	worker.submit(func() {
		response <- worker.journey.Snapshot()
	})

	select {
	case snapshot := <-response:
		return snapshot, nil
	case <-worker.done:
		return nil, &UnknownBusError{BusIdentifier: busIdentifier}
	}
}

// Shutdown stops every worker, used at process teardown
func (t *Tracker) Shutdown() {
	t.mutex.Lock()
	workers := make([]*busWorker, 0, len(t.workers))
	for _, worker := range t.workers {
		workers = append(workers, worker)
	}
	t.mutex.Unlock()

	for _, worker := range workers {
		worker.submit(worker.stop)
	}
}

func (t *Tracker) worker(busIdentifier string) (*busWorker, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	worker, exists := t.workers[busIdentifier]
	if !exists {
		return nil, &UnknownBusError{BusIdentifier: busIdentifier}
	}

	return worker, nil
}

func (t *Tracker) evict(busIdentifier string) {
	t.mutex.Lock()
	delete(t.workers, busIdentifier)
	t.mutex.Unlock()
}

type busWorker struct {
	busIdentifier string

	journey    *BusJourney
	classifier *Classifier

	commands chan func()
	done     chan struct{}

	idleTimer *time.Timer

	tracker *Tracker
}

func (w *busWorker) run() {
	w.idleTimer = time.NewTimer(w.tracker.config.IdleTimeout)
	defer w.idleTimer.Stop()

	for {
		select {
		case command := <-w.commands:
			w.execute(command)
		case <-w.idleTimer.C:
			w.execute(w.idleTimeout)
		}

		select {
		case <-w.done:
			return
		default:
		}
	}
}

// execute isolates a panic during classification to this bus, other buses
// keep processing
func (w *busWorker) execute(command func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("bus", w.busIdentifier).
				Msg("Recovered panic in bus worker")
		}
	}()

	command()
}

func (w *busWorker) submit(command func()) {
	select {
	case w.commands <- command:
	case <-w.done:
	}
}

func (w *busWorker) resetIdleTimer() {
	if !w.idleTimer.Stop() {
		select {
		case <-w.idleTimer.C:
		default:
		}
	}
	w.idleTimer.Reset(w.tracker.config.IdleTimeout)
}

func (w *busWorker) idleTimeout() {
	log.Warn().Str("bus", w.busIdentifier).Msg("Bus idle timeout, evicting journey")

	event := w.classifier.ClassifyIdleTimeout(w.journey, time.Now())
	w.tracker.sink.DispatchEvent(event, w.journey.Snapshot())

	w.stop()
}

func (w *busWorker) stop() {
	select {
	case <-w.done:
		return
	default:
	}

	close(w.done)
	w.tracker.evict(w.busIdentifier)

	log.Info().
		Str("bus", w.busIdentifier).
		Str("status", string(w.journey.Status)).
		Msg("Stopped tracking bus")
}
