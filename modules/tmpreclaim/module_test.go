package tmpreclaim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"wa-recall/pkg/recall"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sweepNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixtureFile struct {
	name string
	size int
	age  time.Duration
}

func writeFixtures(t *testing.T, dir string, files []fixtureFile) {
	t.Helper()

	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if err := os.WriteFile(path, make([]byte, file.size), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		modTime := sweepNow.Add(-file.age)
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names
}

func TestSweep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		files       []fixtureFile
		maxBytes    int64
		live        []string
		wantNames   []string
		wantByAge   int
		wantBySize  int
		wantReclaim int64
	}{
		{
			name: "removes only files past the age ceiling",
			files: []fixtureFile{
				{name: "old.jpg", size: 10, age: 7 * time.Hour},
				{name: "older.mp4", size: 20, age: 30 * time.Hour},
				{name: "fresh.webp", size: 5, age: time.Hour},
			},
			maxBytes:    1000,
			wantNames:   []string{"fresh.webp"},
			wantByAge:   2,
			wantReclaim: 30,
		},
		{
			name: "size ceiling removes oldest first",
			files: []fixtureFile{
				{name: "a.jpg", size: 40, age: 3 * time.Hour},
				{name: "b.jpg", size: 40, age: 2 * time.Hour},
				{name: "c.jpg", size: 40, age: time.Hour},
				{name: "d.jpg", size: 40, age: time.Minute},
			},
			maxBytes:    90,
			wantNames:   []string{"c.jpg", "d.jpg"},
			wantBySize:  2,
			wantReclaim: 80,
		},
		{
			name: "age pass runs before size pass",
			files: []fixtureFile{
				{name: "stale.ogg", size: 100, age: 8 * time.Hour},
				{name: "new1.ogg", size: 30, age: 2 * time.Hour},
				{name: "new2.ogg", size: 30, age: time.Hour},
			},
			maxBytes:    60,
			wantNames:   []string{"new1.ogg", "new2.ogg"},
			wantByAge:   1,
			wantReclaim: 100,
		},
		{
			name: "live files survive both passes",
			files: []fixtureFile{
				{name: "live-old.jpg", size: 50, age: 9 * time.Hour},
				{name: "live-big.mp4", size: 50, age: 5 * time.Hour},
				{name: "spare.mp4", size: 50, age: 4 * time.Hour},
			},
			maxBytes:    60,
			live:        []string{"live-old.jpg", "live-big.mp4"},
			wantNames:   []string{"live-big.mp4", "live-old.jpg"},
			wantBySize:  1,
			wantReclaim: 50,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFixtures(t, dir, testCase.files)
			if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			live := make([]string, 0, len(testCase.live))
			for _, name := range testCase.live {
				live = append(live, filepath.Join(dir, name))
			}

			report, err := Sweep(context.Background(), SweepOptions{
				Dir:      dir,
				MaxAge:   DefaultMaxAge,
				MaxBytes: testCase.maxBytes,
				Now:      sweepNow,
				Live:     live,
			})
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}

			if got := listNames(t, dir); fmt.Sprint(got) != fmt.Sprint(testCase.wantNames) {
				t.Fatalf("remaining files = %v, want %v", got, testCase.wantNames)
			}
			if report.RemovedByAge != testCase.wantByAge || report.RemovedBySize != testCase.wantBySize {
				t.Fatalf("report removed age=%d size=%d, want %d and %d",
					report.RemovedByAge, report.RemovedBySize, testCase.wantByAge, testCase.wantBySize)
			}
			if report.ReclaimedBytes != testCase.wantReclaim {
				t.Fatalf("reclaimed = %d, want %d", report.ReclaimedBytes, testCase.wantReclaim)
			}
			if report.Scanned != len(testCase.files) {
				t.Fatalf("scanned = %d, want %d", report.Scanned, len(testCase.files))
			}
		})
	}
}

func TestSweepMissingDirectoryIsEmpty(t *testing.T) {
	t.Parallel()

	report, err := Sweep(context.Background(), SweepOptions{
		Dir:      filepath.Join(t.TempDir(), "absent"),
		MaxAge:   DefaultMaxAge,
		MaxBytes: DefaultMaxBytes,
		Now:      sweepNow,
	})
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report != (Report{}) {
		t.Fatalf("report = %+v, want zero", report)
	}
}

func TestSweepHonorsCancellation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixtures(t, dir, []fixtureFile{{name: "a.jpg", size: 1, age: time.Minute}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Sweep(ctx, SweepOptions{Dir: dir, Now: sweepNow}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sweep() error = %v, want context.Canceled", err)
	}
}

func writeSparseFile(t *testing.T, path string, size int64, age time.Duration) {
	t.Helper()

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		t.Fatalf("truncate %s: %v", path, err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	modTime := sweepNow.Add(-age)
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestSweepDefaultCeilingIsBinaryMegabytes(t *testing.T) {
	t.Parallel()

	if DefaultMaxBytes != 209715200 {
		t.Fatalf("DefaultMaxBytes = %d, want 209715200", DefaultMaxBytes)
	}

	tests := []struct {
		name        string
		fileSize    int64
		wantBySize  int
		wantRemains int
	}{
		{name: "between 200 MB and 200 MiB is kept", fileSize: 102_500_000, wantRemains: 2},
		{name: "above 200 MiB trims the oldest", fileSize: 105_000_000, wantBySize: 1, wantRemains: 1},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeSparseFile(t, filepath.Join(dir, "older.mp4"), testCase.fileSize, 2*time.Hour)
			writeSparseFile(t, filepath.Join(dir, "newer.mp4"), testCase.fileSize, time.Hour)

			report, err := Sweep(context.Background(), SweepOptions{
				Dir:      dir,
				MaxAge:   DefaultMaxAge,
				MaxBytes: DefaultMaxBytes,
				Now:      sweepNow,
			})
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if report.RemovedBySize != testCase.wantBySize {
				t.Fatalf("removed by size = %d, want %d", report.RemovedBySize, testCase.wantBySize)
			}
			remaining := listNames(t, dir)
			if len(remaining) != testCase.wantRemains {
				t.Fatalf("remaining files = %v, want %d", remaining, testCase.wantRemains)
			}
			if testCase.wantBySize > 0 && remaining[0] != "newer.mp4" {
				t.Fatalf("remaining files = %v, want newer.mp4 kept", remaining)
			}
		})
	}
}

type staticReferences struct {
	mu    sync.Mutex
	paths []string
}

func (r *staticReferences) References() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.paths...)
}

type mapRegistry map[string]any

func (r mapRegistry) Register(name string, service any) error {
	r[name] = service
	return nil
}

func (r mapRegistry) Resolve(name string) (any, error) {
	service, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", recall.ErrServiceNotFound, name)
	}

	return service, nil
}

type stubRuntime struct {
	registry mapRegistry
}

func (r stubRuntime) Services() recall.ServiceRegistry {
	return r.registry
}

func TestModuleSweepsOnStartAndStopsOnShutdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixtures(t, dir, []fixtureFile{
		{name: "expired.jpg", size: 10, age: 10 * time.Hour},
		{name: "captured.jpg", size: 10, age: 10 * time.Hour},
	})
	references := &staticReferences{paths: []string{filepath.Join(dir, "captured.jpg")}}
	registry := mapRegistry{
		recall.ServiceLogger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		recall.ServiceMediaReferences: references,
	}

	module := New(
		WithDir(dir),
		WithInterval(time.Hour),
		WithProtectLiveMedia(true),
		WithClock(func() time.Time { return sweepNow }),
	)
	if err := module.OnRegister(context.Background(), stubRuntime{registry: registry}); err != nil {
		t.Fatalf("OnRegister() error = %v", err)
	}
	if err := module.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}
	if err := module.OnStart(context.Background()); err == nil {
		t.Fatal("second OnStart() error = nil, want already started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for module.LastReport().RemovedByAge != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("initial sweep did not run, last report = %+v", module.LastReport())
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := module.OnShutdown(shutdownCtx); err != nil {
		t.Fatalf("OnShutdown() error = %v", err)
	}
	if err := module.OnShutdown(shutdownCtx); err != nil {
		t.Fatalf("second OnShutdown() error = %v", err)
	}

	if got := listNames(t, dir); fmt.Sprint(got) != "[captured.jpg]" {
		t.Fatalf("remaining files = %v, want [captured.jpg]", got)
	}
}

func TestModuleWithoutProtectionRemovesReferencedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixtures(t, dir, []fixtureFile{{name: "captured.jpg", size: 10, age: 10 * time.Hour}})
	registry := mapRegistry{
		recall.ServiceMediaReferences: &staticReferences{paths: []string{filepath.Join(dir, "captured.jpg")}},
	}

	module := New(WithDir(dir), WithInterval(time.Hour), WithClock(func() time.Time { return sweepNow }))
	if err := module.OnRegister(context.Background(), stubRuntime{registry: registry}); err != nil {
		t.Fatalf("OnRegister() error = %v", err)
	}
	if err := module.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}
	defer func() {
		if err := module.OnShutdown(context.Background()); err != nil {
			t.Fatalf("OnShutdown() error = %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(listNames(t, dir)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("referenced file kept without protection: %v", listNames(t, dir))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type flakyReferences struct {
	mu    sync.Mutex
	calls int
}

func (r *flakyReferences) References() []string {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()

	if first {
		panic("reference snapshot failed")
	}

	return nil
}

func TestModuleSurvivesPanickingSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixtures(t, dir, []fixtureFile{{name: "expired.jpg", size: 10, age: 10 * time.Hour}})
	registry := mapRegistry{
		recall.ServiceLogger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		recall.ServiceMediaReferences: &flakyReferences{},
	}

	module := New(
		WithDir(dir),
		WithInterval(10*time.Millisecond),
		WithProtectLiveMedia(true),
		WithClock(func() time.Time { return sweepNow }),
	)
	if err := module.OnRegister(context.Background(), stubRuntime{registry: registry}); err != nil {
		t.Fatalf("OnRegister() error = %v", err)
	}
	if err := module.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for module.LastReport().RemovedByAge != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep loop stopped after a panic, last report = %+v", module.LastReport())
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := module.OnShutdown(shutdownCtx); err != nil {
		t.Fatalf("OnShutdown() error = %v", err)
	}
}
