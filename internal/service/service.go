// Package service is the application layer that ties the queue facade,
// scheduler, orchestrator and broadcaster together into the data flow
// spec.md §4 describes: submit -> persist queued -> enqueue through the
// facade -> scheduler acquires a slot -> orchestrator drives the iteration
// loop -> events published -> terminal state persisted and the slot
// released. It is the generalization of the teacher's API struct
// composition (store + dispatcher + reconciler + scheduler + elector) to
// this domain's components.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workbenchhq/controlplane/internal/events"
	"github.com/workbenchhq/controlplane/internal/orchestrator"
	"github.com/workbenchhq/controlplane/internal/persistence"
	"github.com/workbenchhq/controlplane/internal/profile"
	"github.com/workbenchhq/controlplane/internal/queuefacade"
	"github.com/workbenchhq/controlplane/internal/queuemanager"
	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/retry"
	"github.com/workbenchhq/controlplane/internal/scheduler"
	"github.com/workbenchhq/controlplane/internal/statemachine"
	"github.com/workbenchhq/controlplane/internal/strategy"
	"github.com/workbenchhq/controlplane/internal/telemetry"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// DefaultStrategy names the mode and config applied to a work order that
// doesn't resolve one from a harness profile.
type DefaultStrategy struct {
	Mode   strategy.Mode
	Config map[string]any
}

// Service wires admission, dispatch and the iteration loop together.
type Service struct {
	persist   persistence.Store
	monitor   *resource.Monitor
	sched     *scheduler.Scheduler
	legacy    *queuemanager.Manager
	facade    *queuefacade.Facade
	broadcast *events.Broadcaster
	registry  *strategy.Registry
	profiles  *profile.Store
	retryMgr  *retry.Manager
	defStrat  DefaultStrategy

	agent    orchestrator.AgentRunner
	verifier orchestrator.VerificationRunner
	wsStore  orchestrator.WorkspaceStore

	mu      sync.Mutex
	handles map[string]*orchestrator.RunHandle // keyed by work order id
	woMach  map[string]*statemachine.WorkOrderMachine

	ctx        context.Context
	legacyStop chan struct{}
}

// Deps bundles the external collaborators and internal components a
// Service is constructed from.
type Deps struct {
	Persist    persistence.Store
	Monitor    *resource.Monitor
	Sched      *scheduler.Scheduler
	Legacy     *queuemanager.Manager
	Facade     *queuefacade.Facade
	Broadcast  *events.Broadcaster
	Registry   *strategy.Registry
	Profiles   *profile.Store
	RetryMgr   *retry.Manager
	Agent      orchestrator.AgentRunner
	Verifier   orchestrator.VerificationRunner
	WSStore    orchestrator.WorkspaceStore
	DefaultStrategy DefaultStrategy
}

// New constructs a Service and installs its execution handler on the new
// scheduler. Callers must still call Start to begin polling.
func New(d Deps) *Service {
	s := &Service{
		persist:   d.Persist,
		monitor:   d.Monitor,
		sched:     d.Sched,
		legacy:    d.Legacy,
		facade:    d.Facade,
		broadcast: d.Broadcast,
		registry:  d.Registry,
		profiles:  d.Profiles,
		retryMgr:  d.RetryMgr,
		defStrat:  d.DefaultStrategy,
		agent:     d.Agent,
		verifier:  d.Verifier,
		wsStore:   d.WSStore,
		handles:   make(map[string]*orchestrator.RunHandle),
		woMach:    make(map[string]*statemachine.WorkOrderMachine),
	}
	s.sched.SetExecutionHandler(s.onDispatch)
	return s
}

// Start begins the scheduler poll loop and the legacy-queue drain loop (the
// latter exists only because queuemanager.Manager has no poll loop of its
// own - it predates the Scheduler and was always driven by whatever called
// Next() in a tick).
func (s *Service) Start(ctx context.Context) {
	s.ctx = ctx
	s.sched.Start(ctx)
	s.legacyStop = make(chan struct{})
	go s.legacyDrain(ctx)
}

// Stop halts both poll loops. Idempotent.
func (s *Service) Stop() {
	s.sched.Stop()
	if s.legacyStop != nil {
		close(s.legacyStop)
	}
}

func (s *Service) legacyDrain(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.legacyStop:
			return
		case <-ticker.C:
			wo, ok := s.legacy.Next()
			if !ok {
				continue
			}
			slot := s.monitor.AcquireSlot(wo.ID)
			if slot == nil {
				// Put it back at the head by re-enqueueing; crude but keeps
				// legacy semantics simple (it has no peek/requeue API).
				s.legacy.Enqueue(wo)
				continue
			}
			go func(wo workorder.QueuedWorkOrder, slot *resource.SlotHandle) {
				defer s.legacy.Release(wo.ID)
				s.onDispatch(wo, slot)
			}(wo, slot)
		}
	}
}

// SubmitWorkOrder persists a new work order as queued and routes it through
// the facade. The returned error is nil even if the queue rejects it;
// callers check the bool to learn whether admission succeeded.
func (s *Service) SubmitWorkOrder(ctx context.Context, wo workorder.WorkOrder) (workorder.WorkOrder, bool, error) {
	if wo.ID == "" {
		wo.ID = uuid.NewString()
	}
	if wo.HarnessProfile != "" && s.profiles != nil {
		if p, err := s.profiles.Load(wo.HarnessProfile); err == nil {
			wo.AgentType, wo.MaxIterations, wo.MaxWallClockSeconds = profile.Resolve(p, wo.AgentType, wo.MaxIterations, wo.MaxWallClockSeconds)
		}
	}
	wo.Status = workorder.StatusQueued
	wo.CreatedAt = time.Now()

	s.mu.Lock()
	s.woMach[wo.ID] = statemachine.NewWorkOrderMachine(workorder.StatusQueued)
	s.mu.Unlock()

	if err := s.persist.SaveWorkOrder(ctx, wo); err != nil {
		return wo, false, fmt.Errorf("service: persist work order: %w", err)
	}

	admitted := s.facade.Enqueue(workorder.QueuedWorkOrder{ID: wo.ID, SubmittedAt: wo.CreatedAt})
	if admitted {
		telemetry.SchedulerDispatches.WithLabelValues("dispatched").Inc()
	} else {
		telemetry.SchedulerDispatches.WithLabelValues("backpressure").Inc()
	}
	s.broadcast.Publish(events.Event{Type: events.TypeWorkOrderCreated, WorkOrderID: wo.ID, PublishedAt: time.Now()})
	return wo, admitted, nil
}

func (s *Service) machineFor(id string, initial workorder.WorkOrderStatus) *statemachine.WorkOrderMachine {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.woMach[id]
	if !ok {
		m = statemachine.NewWorkOrderMachine(initial)
		s.woMach[id] = m
	}
	return m
}

// onDispatch is the scheduler/legacy execution handler: it loads the work
// order, transitions it to running, starts a run, drives the orchestrator
// loop, and persists the terminal work-order status once the run finishes.
// It must not block its caller's poll loop, so it always hands off to its
// own goroutine before doing anything that can take real time.
func (s *Service) onDispatch(qwo workorder.QueuedWorkOrder, slot *resource.SlotHandle) {
	go func() {
		defer s.monitor.ReleaseSlot(slot)
		s.runDispatched(qwo)
	}()
}

func (s *Service) runDispatched(qwo workorder.QueuedWorkOrder) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	wo, err := s.persist.LoadWorkOrder(ctx, qwo.ID)
	if err != nil {
		log.Printf("service: dispatch %s: load failed: %v", qwo.ID, err)
		return
	}

	m := s.machineFor(wo.ID, wo.Status)
	if err := m.TransitionTo(workorder.StatusRunning); err != nil {
		log.Printf("service: dispatch %s: %v", wo.ID, err)
		return
	}
	wo.Status = workorder.StatusRunning
	if err := s.persist.SaveWorkOrder(ctx, wo); err != nil {
		log.Printf("service: dispatch %s: persist running: %v", wo.ID, err)
	}

	run := workorder.Run{
		ID:          uuid.NewString(),
		WorkOrderID: wo.ID,
		State:       workorder.RunQueued,
		StartedAt:   time.Now(),
	}
	if err := s.persist.SaveRun(ctx, run); err != nil {
		log.Printf("service: dispatch %s: persist run: %v", wo.ID, err)
	}

	strat, err := s.strategyFor(wo)
	if err != nil {
		log.Printf("service: dispatch %s: strategy: %v", wo.ID, err)
		wo.Status = workorder.StatusFailed
		_ = m.TransitionTo(workorder.StatusFailed)
		_ = s.persist.SaveWorkOrder(ctx, wo)
		return
	}

	o := orchestrator.New(s.agent, s.verifier, s.wsStore, s.persist, &publisher{b: s.broadcast})
	s.broadcast.Publish(events.Event{Type: events.TypeRunStarted, WorkOrderID: wo.ID, RunID: run.ID, PublishedAt: time.Now()})

	handle := o.Drive(ctx, wo, run, strat)
	s.mu.Lock()
	s.handles[wo.ID] = handle
	s.mu.Unlock()

	handle.Wait()

	s.mu.Lock()
	delete(s.handles, wo.ID)
	s.mu.Unlock()

	finalRun, err := s.persist.LoadRun(ctx, run.ID)
	if err != nil {
		log.Printf("service: dispatch %s: reload run: %v", wo.ID, err)
		return
	}

	telemetry.RunsTotal.WithLabelValues(string(finalRun.Result)).Inc()

	switch finalRun.Result {
	case workorder.ResultPassed:
		wo.Status = workorder.StatusSucceeded
		s.broadcast.Publish(events.Event{Type: events.TypeRunCompleted, WorkOrderID: wo.ID, RunID: run.ID, PublishedAt: time.Now()})
	case workorder.ResultCancelled:
		wo.Status = workorder.StatusCanceled
	default:
		wo.Status = workorder.StatusFailed
		s.broadcast.Publish(events.Event{Type: events.TypeRunFailed, WorkOrderID: wo.ID, RunID: run.ID, PublishedAt: time.Now()})
	}
	now := time.Now()
	wo.CompletedAt = &now
	if err := m.TransitionTo(wo.Status); err != nil {
		log.Printf("service: dispatch %s: %v", wo.ID, err)
	}
	if err := s.persist.SaveWorkOrder(ctx, wo); err != nil {
		log.Printf("service: dispatch %s: persist terminal: %v", wo.ID, err)
	}
	s.broadcast.Publish(events.Event{Type: events.TypeWorkOrderUpdated, WorkOrderID: wo.ID, PublishedAt: time.Now()})
}

func (s *Service) strategyFor(wo workorder.WorkOrder) (strategy.Strategy, error) {
	mode := s.defStrat.Mode
	cfg := s.defStrat.Config
	if wo.HarnessProfile != "" && s.profiles != nil {
		if p, err := s.profiles.Load(wo.HarnessProfile); err == nil && p.StrategyMode != "" {
			mode = strategy.Mode(p.StrategyMode)
			cfg = p.StrategyConfig
		}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if _, ok := cfg["maxIterations"]; !ok && wo.MaxIterations > 0 {
		cfg["maxIterations"] = wo.MaxIterations
	}
	return s.registry.New(mode, cfg)
}

// CancelWorkOrder transitions id to canceled and, if it is currently
// running, trips its cancel token so the in-flight run observes it at the
// next stage boundary.
func (s *Service) CancelWorkOrder(ctx context.Context, id string) error {
	wo, err := s.persist.LoadWorkOrder(ctx, id)
	if err != nil {
		return err
	}
	m := s.machineFor(id, wo.Status)
	if err := m.TransitionTo(workorder.StatusCanceled); err != nil {
		return err
	}
	wo.Status = workorder.StatusCanceled
	now := time.Now()
	wo.CompletedAt = &now
	if err := s.persist.SaveWorkOrder(ctx, wo); err != nil {
		return err
	}

	s.mu.Lock()
	handle, running := s.handles[id]
	s.mu.Unlock()
	if running {
		handle.Cancel()
	}
	s.broadcast.Publish(events.Event{Type: events.TypeWorkOrderUpdated, WorkOrderID: id, PublishedAt: time.Now()})
	return nil
}

// KillWorkOrder is a harder variant of cancel: it trips the cancel token
// without going through the "retry re-enqueues a failed work order"
// transition path, for when an operator wants the run stopped immediately
// regardless of in-flight retries.
func (s *Service) KillWorkOrder(ctx context.Context, id string) error {
	s.retryMgr.Cancel(id)
	return s.CancelWorkOrder(ctx, id)
}

// QueuePosition reports where id sits in whichever system is primary for
// it, or false if it isn't queued (e.g. already running or finished).
func (s *Service) QueuePosition(id string) (workorder.QueuePosition, bool) {
	return s.facade.Position(id)
}

// ListQueued is the autoprocessor.Lister this service exposes: the oldest
// still-queued work orders known to persistence, independent of whichever
// queue (legacy or new) they were admitted through.
func (s *Service) ListQueued(ctx context.Context) ([]workorder.WorkOrder, error) {
	return s.persist.ListWorkOrders(ctx, workorder.StatusQueued, 0, 0)
}

// StartIfQueued is the autoprocessor.Starter this service exposes. It
// acquires its own slot and drives wo's run directly, bypassing the
// scheduler/legacy poll loops entirely - this is the drain-on-a-ticker path
// for a work order that is still queued in persistence (e.g. recovered
// after a restart) rather than sitting in either queue's in-memory state.
// runDispatched reloads wo and transitions it through the state machine, so
// a work order the scheduler already picked up in the meantime is simply
// rejected by the illegal-transition check and the slot is released.
func (s *Service) StartIfQueued(ctx context.Context, wo workorder.WorkOrder) {
	slot := s.monitor.AcquireSlot(wo.ID)
	if slot == nil {
		return
	}
	go func() {
		defer s.monitor.ReleaseSlot(slot)
		s.runDispatched(workorder.QueuedWorkOrder{ID: wo.ID, SubmittedAt: wo.CreatedAt})
	}()
}

// publisher adapts events.Broadcaster to orchestrator.Publisher.
type publisher struct{ b *events.Broadcaster }

func (p *publisher) PublishRunEvent(workOrderID, runID, eventType string, payload map[string]any) {
	p.b.Publish(events.Event{
		Type:        events.Type(eventType),
		WorkOrderID: workOrderID,
		RunID:       runID,
		Payload:     payload,
		PublishedAt: time.Now(),
	})
}
