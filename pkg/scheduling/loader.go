package scheduling

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/inference/memory"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
	"github.com/Vortextech01/OpenLLM/pkg/metrics"
	"github.com/Vortextech01/OpenLLM/pkg/runner"
)

const (
	// maximumInstanceSlots is the maximum number of engine instance slots
	// allowed. RAM and VRAM limits make it unlikely the slots can ever be
	// fully populated, so this mostly bounds bookkeeping.
	// TODO: Make this tunable once the scheduler grows a config section.
	maximumInstanceSlots = 8
	// instanceIdleTimeout is the maximum amount of time that an instance can
	// sit idle (i.e. without any requests) before being evicted.
	instanceIdleTimeout = 30 * time.Second
)

// instanceKey is used to index instances.
type instanceKey struct {
	// backend is the backend associated with the instance.
	backend string
	// tag is the model artifact tag served by the instance.
	tag string
	// mode is the engine operation mode.
	mode inference.BackendMode
}

// instanceInfo is a point-in-time description of one running instance.
type instanceInfo struct {
	backend string
	tag     string
	mode    inference.BackendMode
	socket  string
}

// loader manages the loading and unloading of engine instances. It regulates
// active engines in a manner that avoids exhausting system memory. Loaders
// assume that their backends have been installed, so no load requests should
// be made until the caller is certain that the corresponding backend has been
// installed successfully.
type loader struct {
	// log is the associated logger.
	log logging.Logger
	// backends are the supported inference backends.
	backends map[string]inference.Backend
	// recorder receives eviction events. It may be nil.
	recorder Recorder
	// metrics receives instance gauge updates. It may be nil.
	metrics *metrics.Recorder
	// sysMemInfo answers whether the host can ever fit a model.
	sysMemInfo memory.SystemMemoryInfo
	// totalMemory is the host memory visible to the loader. Axes whose
	// capacity is unknown carry the sentinel value 1 and are not accounted.
	totalMemory inference.RequiredMemory
	// idleCheck is used to signal the run loop when timestamps have updated.
	idleCheck chan struct{}
	// guard is a semaphore controlling access to all subsequent fields. It is
	// buffered (with size 1) and contains a single element that must be held
	// in order to operate on those fields. We use a channel (instead of a
	// sync.Mutex) to enable polling.
	guard chan struct{}
	// loadsEnabled signals that loads are currently enabled.
	loadsEnabled bool
	// availableMemory is the unallocated portion of the accounted memory.
	availableMemory inference.RequiredMemory
	// waiters is the set of signal channels associated with waiting loaders.
	// We use a set of signaling channels (instead of a sync.Cond) to enable
	// polling. Each signaling channel should be buffered (with size 1).
	waiters map[chan<- struct{}]bool
	// instances maps instance keys to their slot index.
	instances map[instanceKey]int
	// slots maps slot indices to associated instances. A slot is considered
	// free if the instance value in it is nil.
	slots []*instance
	// references maps slot indices to reference counts.
	references []uint
	// allocations maps slot indices to memory allocation sizes.
	allocations []inference.RequiredMemory
	// timestamps maps slot indices to last usage times. Values in this slice
	// are only valid if the corresponding reference count is zero.
	timestamps []time.Time
}

// newLoader creates a new loader.
func newLoader(
	log logging.Logger,
	backends map[string]inference.Backend,
	recorder Recorder,
	metricsRecorder *metrics.Recorder,
	sysMemInfo memory.SystemMemoryInfo,
) *loader {
	nSlots := min(runtime.NumCPU(), maximumInstanceSlots)

	// Unknown capacity axes are tracked as zero and never debited.
	total := sysMemInfo.GetTotalMemory()
	available := total
	if available.RAM <= 1 {
		available.RAM = 0
	}
	if available.VRAM <= 1 {
		available.VRAM = 0
	}

	l := &loader{
		log:             log,
		backends:        backends,
		recorder:        recorder,
		metrics:         metricsRecorder,
		sysMemInfo:      sysMemInfo,
		totalMemory:     total,
		idleCheck:       make(chan struct{}, 1),
		guard:           make(chan struct{}, 1),
		availableMemory: available,
		waiters:         make(map[chan<- struct{}]bool),
		instances:       make(map[instanceKey]int, nSlots),
		slots:           make([]*instance, nSlots),
		references:      make([]uint, nSlots),
		allocations:     make([]inference.RequiredMemory, nSlots),
		timestamps:      make([]time.Time, nSlots),
	}
	l.guard <- struct{}{}
	return l
}

// lock acquires the guard semaphore. It returns true if the lock was acquired
// and false if ctx is cancelled before acquisition.
func (l *loader) lock(ctx context.Context) bool {
	select {
	case <-l.guard:
		return true
	case <-ctx.Done():
		return false
	}
}

// unlock releases the guard semaphore.
func (l *loader) unlock() {
	l.guard <- struct{}{}
}

// broadcast signals all waiters. Callers must hold the loader lock.
func (l *loader) broadcast() {
	for waiter := range l.waiters {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// chargeFor computes the memory to debit for an estimate. Axes whose host
// capacity is unknown are not accounted.
func (l *loader) chargeFor(required inference.RequiredMemory) inference.RequiredMemory {
	charge := required
	if l.totalMemory.RAM <= 1 {
		charge.RAM = 0
	}
	if l.totalMemory.VRAM <= 1 {
		charge.VRAM = 0
	}
	return charge
}

// memoryFits reports whether a charge fits into the available memory.
func memoryFits(charge, available inference.RequiredMemory) bool {
	return charge.RAM <= available.RAM && charge.VRAM <= available.VRAM
}

// evictSlot terminates the instance in the given slot and releases its
// bookkeeping. The caller must hold the loader lock.
func (l *loader) evictSlot(key instanceKey, slot int) {
	l.log.Infof("Evicting %s instance serving %s", key.backend, key.tag)
	l.slots[slot].terminate()
	l.slots[slot] = nil
	l.availableMemory.RAM += l.allocations[slot].RAM
	l.availableMemory.VRAM += l.allocations[slot].VRAM
	l.allocations[slot] = inference.RequiredMemory{}
	l.timestamps[slot] = time.Time{}
	delete(l.instances, key)
	if l.recorder != nil {
		l.recorder.Record(context.Background(), "evict", key.tag, key.backend)
	}
	l.updateGauge()
}

// evict evicts all unused instances from the loader. If idleOnly is true,
// then only those unused instances which are considered "idle" (based on
// usage timestamp) are evicted. The caller must hold the loader lock. It
// returns the number of remaining instances.
func (l *loader) evict(idleOnly bool) int {
	now := time.Now()
	for key, slot := range l.instances {
		unused := l.references[slot] == 0
		idle := unused && now.Sub(l.timestamps[slot]) > instanceIdleTimeout
		if unused && (!idleOnly || idle) {
			l.evictSlot(key, slot)
		}
	}
	return len(l.instances)
}

// purge immediately evicts any unused instances serving the given tag.
// Instances still referenced by in-flight requests are left for the idle
// sweep.
func (l *loader) purge(tag string) {
	l.lock(context.Background())
	defer l.unlock()
	for key, slot := range l.instances {
		if key.tag == tag && l.references[slot] == 0 {
			l.evictSlot(key, slot)
		}
	}
	l.broadcast()
}

// active returns a snapshot of running instances.
func (l *loader) active() []instanceInfo {
	l.lock(context.Background())
	defer l.unlock()
	infos := make([]instanceInfo, 0, len(l.instances))
	for key, slot := range l.instances {
		infos = append(infos, instanceInfo{
			backend: key.backend,
			tag:     key.tag,
			mode:    key.mode,
			socket:  l.slots[slot].socket,
		})
	}
	return infos
}

// updateGauge publishes the loaded instance count. The caller must hold the
// loader lock.
func (l *loader) updateGauge() {
	if l.metrics != nil {
		l.metrics.SetInstancesLoaded(len(l.instances))
	}
}

// stopAndDrainTimer stops and drains a timer without knowing if it was
// running.
func stopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// idleCheckDuration computes the duration until the next idle instance
// eviction should occur. The caller must hold the loader lock. If no
// instances are unused, then -1 seconds is returned. If any unused instances
// are already expired, then 0 seconds is returned. Otherwise a time in the
// future at which eviction should occur is returned.
func (l *loader) idleCheckDuration() time.Duration {
	// Compute the oldest usage time for any idle instance.
	var oldest time.Time
	for _, slot := range l.instances {
		if l.references[slot] == 0 {
			timestamp := l.timestamps[slot]
			if oldest.IsZero() || timestamp.Before(oldest) {
				oldest = timestamp
			}
		}
	}

	// If there are no unused instances, then don't schedule a check.
	if oldest.IsZero() {
		return -1 * time.Second
	}

	// Compute the remaining duration. If negative, check immediately,
	// otherwise wait until 100 milliseconds after expiration time (to avoid
	// checking right on the expiration boundary).
	if remaining := instanceIdleTimeout - time.Since(oldest); remaining < 0 {
		return 0
	} else {
		return remaining + 100*time.Millisecond
	}
}

// run is the run loop for the loader. It drives idle instance eviction. By
// the time run returns, all instances will have been evicted.
func (l *loader) run(ctx context.Context) {
	// Signal that loads are enabled. There's no need to broadcast here
	// because no loaders will wait if they see that loads are disabled.
	if !l.lock(ctx) {
		return
	}
	l.loadsEnabled = true
	l.unlock()

	// Defer disablement of loads and wait for complete eviction.
	defer func() {
		poll := make(chan struct{}, 1)
		poll <- struct{}{} // Trigger an initial polling in case all are unused.
		l.lock(context.Background())
		l.loadsEnabled = false
		l.broadcast()
		l.waiters[poll] = true
		l.unlock()
		for range poll {
			l.lock(context.Background())
			if l.evict(false) == 0 {
				delete(l.waiters, poll)
				l.unlock()
				break
			}
			l.unlock()
		}
	}()

	// Create a timer that we'll use to drive idle eviction. Ensure that it's
	// stopped by the time we exit.
	idleTimer := time.NewTimer(0)
	if !idleTimer.Stop() {
		<-idleTimer.C
	}
	defer idleTimer.Stop()

	// Evict idle instances.
	for {
		select {
		case <-ctx.Done():
			return
		case <-idleTimer.C:
			// Perform eviction.
			if l.lock(ctx) {
				l.evict(true)
				if nextCheck := l.idleCheckDuration(); nextCheck >= 0 {
					idleTimer.Reset(nextCheck)
				}
				l.unlock()
			}
		case <-l.idleCheck:
			// Compute the next idle check time.
			if l.lock(ctx) {
				stopAndDrainTimer(idleTimer)
				if nextCheck := l.idleCheckDuration(); nextCheck >= 0 {
					idleTimer.Reset(nextCheck)
				}
				l.unlock()
			}
		}
	}
}

// load allocates an instance serving the given descriptor's model. If
// allocated, it should be released by the caller using the release mechanism
// (once the instance is no longer needed).
func (l *loader) load(ctx context.Context, backendName string, desc *runner.Descriptor, mode inference.BackendMode) (*instance, error) {
	// Grab the backend.
	backend, ok := l.backends[backendName]
	if !ok {
		return nil, ErrBackendNotFound
	}

	// Prepare the model and estimate its working set before taking the
	// loader lock; the model is memoized by its handle and the estimate only
	// reads weights metadata.
	model, err := desc.Handle().Model(ctx)
	if err != nil {
		return nil, err
	}
	tag := desc.Tag().String()

	required := inference.RequiredMemory{RAM: 1, VRAM: 1}
	if estimate, err := backend.GetRequiredMemoryForModel(ctx, model); err != nil {
		l.log.Warnf("Unable to estimate memory for %s: %v", tag, err)
	} else {
		required = *estimate
	}
	if fits, err := l.sysMemInfo.HaveSufficientMemory(required); err != nil {
		// Unknown host capacity; admit and let the accounted axes regulate.
		l.log.Warnf("Cannot verify host capacity for %s: %v", tag, err)
	} else if !fits {
		return nil, errModelTooBig
	}
	charge := l.chargeFor(required)

	// Acquire the loader lock and defer its release.
	if !l.lock(ctx) {
		return nil, context.Canceled
	}
	defer l.unlock()

	// Create a polling channel that we can use to detect state changes and
	// ensure that it's deregistered by the time we return.
	poll := make(chan struct{}, 1)
	l.waiters[poll] = true
	defer func() {
		delete(l.waiters, poll)
	}()

	// Loop until we can satisfy the request or an error occurs.
	key := instanceKey{backend: backendName, tag: tag, mode: mode}
	for {
		// If loads are disabled, then there's nothing we can do.
		if !l.loadsEnabled {
			return nil, errLoadsDisabled
		}

		// See if we can satisfy the request with an existing instance. An
		// instance whose engine has died is dropped (if unused) so the loop
		// can start a replacement.
		if existing, ok := l.instances[key]; ok {
			select {
			case <-l.slots[existing].done:
				if l.references[existing] == 0 {
					l.evictSlot(key, existing)
					continue
				}
				// Still referenced by draining requests; wait below.
			default:
				l.references[existing] += 1
				l.timestamps[existing] = time.Time{}
				return l.slots[existing], nil
			}
		}

		// If there's not sufficient memory or all slots are full, then try
		// evicting unused instances.
		if !memoryFits(charge, l.availableMemory) || len(l.instances) == len(l.slots) {
			l.evict(false)
		}

		// If there's sufficient memory and a free slot, then find the slot.
		slot := -1
		if memoryFits(charge, l.availableMemory) && len(l.instances) < len(l.slots) {
			for s, inst := range l.slots {
				if inst == nil {
					slot = s
					break
				}
			}
		}

		// If we've identified a slot (and no defunct-but-referenced instance
		// still owns the key), then we're ready to start an instance.
		_, occupied := l.instances[key]
		if slot >= 0 && !occupied {
			// Create the instance.
			l.log.Infof("Loading %s instance for %s", backendName, tag)
			inst, err := startInstance(l.log, backend, tag, model, mode, slot)
			if err != nil {
				l.log.Warnf("Unable to start %s instance for %s: %v",
					backendName, tag, err,
				)
				return nil, fmt.Errorf("unable to start instance: %w", err)
			}

			// Wait for the instance to be ready. In theory it's a little
			// inefficient to block all other loaders (including those that
			// might not want this instance), but in reality they would
			// probably be blocked by the underlying loading anyway (in terms
			// of disk and GPU performance). We have to retain a lock here
			// though to enforce deduplication of instances and keep slot /
			// memory reservations.
			if err := inst.wait(ctx); err != nil {
				inst.terminate()
				l.log.Warnf("Initialization of %s instance for %s failed: %v",
					backendName, tag, err,
				)
				return nil, fmt.Errorf("error waiting for instance to be ready: %w", err)
			}

			// Perform registration and return the instance.
			l.availableMemory.RAM -= charge.RAM
			l.availableMemory.VRAM -= charge.VRAM
			l.instances[key] = slot
			l.slots[slot] = inst
			l.references[slot] = 1
			l.allocations[slot] = charge
			l.updateGauge()
			return inst, nil
		}

		// Wait for something to change. Note that we always re-lock with
		// context.Background() because we need to ensure we hold the lock by
		// the time we return.
		l.unlock()
		select {
		case <-ctx.Done():
			l.lock(context.Background())
			return nil, context.Canceled
		case <-poll:
			l.lock(context.Background())
		}
	}
}

// release releases an instance, which internally decrements its reference
// count.
func (l *loader) release(inst *instance) {
	// Acquire the loader lock and defer its release.
	l.lock(context.Background())
	defer l.unlock()

	// Determine the instance's slot.
	slot := l.instances[instanceKey{backend: inst.backend.Name(), tag: inst.tag, mode: inst.mode}]

	// Decrement the instance's reference count.
	l.references[slot] -= 1

	// If the instance's reference count is now zero, then record now as its
	// idle start time and signal the idle checker.
	if l.references[slot] == 0 {
		l.timestamps[slot] = time.Now()
		select {
		case l.idleCheck <- struct{}{}:
		default:
		}
	}

	// Signal waiters.
	l.broadcast()
}
