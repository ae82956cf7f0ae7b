package kernel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wa-recall/pkg/recall"
)

// TestRegisterModuleDependencyValidation verifies capability-required service validation.
func TestRegisterModuleDependencyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		registerStore bool
		wantErr       bool
	}{
		{name: "missing required service fails", registerStore: false, wantErr: true},
		{name: "present required service succeeds", registerStore: true, wantErr: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})
			if testCase.registerStore {
				if err := kernelRuntime.RegisterService(recall.ServiceSettingsStore, struct{}{}); err != nil {
					t.Fatalf("register store service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "cap-module",
				spec: recall.ModuleSpec{
					Handlers: []recall.ModuleHandler{
						{
							Capability: recall.Capability{
								Name:             "needs-store",
								Interest:         recall.InterestSet{Kinds: []recall.EventKind{recall.EventKindMessageCreated}},
								RequiredServices: []string{recall.ServiceSettingsStore},
							},
							Handler: func(context.Context, *recall.Event) error { return nil },
						},
					},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && err == nil {
				t.Fatal("expected module registration error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

// TestRegisterModuleServicePublishedDuringRegister verifies a module may satisfy
// its own required services from OnRegister.
func TestRegisterModuleServicePublishedDuringRegister(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	module := &stubModule{
		name: "publisher",
		spec: recall.ModuleSpec{
			Handlers: []recall.ModuleHandler{
				{
					Capability: recall.Capability{
						Name:             "self-provided",
						Interest:         recall.InterestSet{Kinds: []recall.EventKind{recall.EventKindMessageCreated}},
						RequiredServices: []string{recall.ServiceMediaReferences},
					},
					Handler: func(context.Context, *recall.Event) error { return nil },
				},
			},
		},
		onRegister: func(_ context.Context, runtime recall.ModuleRuntime) error {
			return runtime.Services().Register(recall.ServiceMediaReferences, struct{}{})
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
}

// TestKernelRunCallsModuleLifecycle verifies lifecycle hook execution during run/shutdown.
func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	eventually(t, 2*time.Second, func() bool { return driver.started.Load() > 0 })
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() == 0 {
		t.Fatal("module OnRegister was not called")
	}
	if module.started.Load() == 0 {
		t.Fatal("module OnStart was not called")
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called")
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

// TestKernelRunReturnsFatalDriverError verifies driver failures stop the kernel.
func TestKernelRunReturnsFatalDriverError(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	driverErr := errors.New("session revoked")
	driver := &stubDriver{name: "failing", startErr: driverErr}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, driverErr) {
		t.Fatalf("run error = %v, want %v", err, driverErr)
	}
}

// TestRegisterModuleBindsDeclarativeHandlers verifies handlers in ModuleSpec are auto-subscribed.
func TestRegisterModuleBindsDeclarativeHandlers(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	handled := make(chan string, 1)
	module := &stubModule{
		name: "declarative",
		spec: recall.ModuleSpec{
			Handlers: []recall.ModuleHandler{
				{
					Capability: recall.Capability{
						Name: "message-retracted",
						Interest: recall.InterestSet{
							Kinds: []recall.EventKind{recall.EventKindMessageRetracted},
						},
					},
					Subscription: recall.SubscriptionSpec{
						Name:    "declarative-handler",
						Buffer:  1,
						Workers: 1,
					},
					Handler: func(_ context.Context, event *recall.Event) error {
						handled <- event.ID
						return nil
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	if err := kernelRuntime.EventBus().Publish(context.Background(), newTestEvent("e1", recall.EventKindMessageRetracted)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case id := <-handled:
		if id != "e1" {
			t.Fatalf("handled event id = %s, want e1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for declarative handler")
	}
}

// TestRegisterModuleRollsBackOnRegisterFailure verifies failed modules can be re-registered.
func TestRegisterModuleRollsBackOnRegisterFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	failing := &stubModule{
		name: "flaky",
		onRegister: func(context.Context, recall.ModuleRuntime) error {
			return errors.New("not ready")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected registration failure")
	}

	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "flaky"}); err != nil {
		t.Fatalf("re-register after rollback failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "flaky"})
	if !errors.Is(err, recall.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate register error = %v, want ErrModuleAlreadyRegistered", err)
	}
}

// TestRegisterModuleSpecValidation verifies declarative spec validation failures.
func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *recall.Event) error { return nil }
	created := recall.InterestSet{Kinds: []recall.EventKind{recall.EventKindMessageCreated}}

	tests := []struct {
		name       string
		spec       recall.ModuleSpec
		wantErrSub string
	}{
		{
			name: "empty handler capability name",
			spec: recall.ModuleSpec{Handlers: []recall.ModuleHandler{
				{Capability: recall.Capability{Interest: created}, Handler: noop},
			}},
			wantErrSub: "empty capability name",
		},
		{
			name: "duplicate capability name",
			spec: recall.ModuleSpec{Handlers: []recall.ModuleHandler{
				{Capability: recall.Capability{Name: "dup", Interest: created}, Handler: noop},
				{Capability: recall.Capability{Name: "dup", Interest: created}, Handler: noop},
			}},
			wantErrSub: "duplicate capability name",
		},
		{
			name: "nil handler",
			spec: recall.ModuleSpec{Handlers: []recall.ModuleHandler{
				{Capability: recall.Capability{Name: "nil-handler", Interest: created}},
			}},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate subscription name",
			spec: recall.ModuleSpec{Handlers: []recall.ModuleHandler{
				{
					Capability:   recall.Capability{Name: "a", Interest: created},
					Subscription: recall.SubscriptionSpec{Name: "dup-sub"},
					Handler:      noop,
				},
				{
					Capability:   recall.Capability{Name: "b", Interest: created},
					Subscription: recall.SubscriptionSpec{Name: "dup-sub"},
					Handler:      noop,
				},
			}},
			wantErrSub: "duplicate subscription name",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})

			err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "invalid", spec: testCase.spec})
			if err == nil {
				t.Fatal("expected module registration error")
			}
			if !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

type stubModule struct {
	name string
	spec recall.ModuleSpec

	onRegister func(ctx context.Context, runtime recall.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() recall.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime recall.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(_ context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(_ context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	startErr error

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, _ recall.EventDispatcher) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	<-ctx.Done()
	return nil
}

func (d *stubDriver) Shutdown(_ context.Context) error {
	d.stopped.Add(1)
	return nil
}
