package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/leowmjw/go-sonify/pkg/render"
)

// ErrPlanNotFound is returned when a plan or result was never saved or was released
var ErrPlanNotFound = errors.New("plan not found")

// PlanStore keeps prepared plans and built results between activities so large
// record sets stay out of workflow history
type PlanStore interface {
	SavePlan(ctx context.Context, id string, plan *render.Plan) error
	LoadPlan(ctx context.Context, id string) (*render.Plan, error)
	SaveResult(ctx context.Context, id string, result *render.Result) error
	LoadResult(ctx context.Context, id string) (*render.Result, error)
	Delete(ctx context.Context, id string) error
}

// MemoryPlanStore implements PlanStore in process memory.
// Values are stored encoded so callers never share state with the store.
type MemoryPlanStore struct {
	mu      sync.RWMutex
	plans   map[string][]byte
	results map[string][]byte
}

// NewMemoryPlanStore creates an empty in-memory store
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{
		plans:   make(map[string][]byte),
		results: make(map[string][]byte),
	}
}

// SavePlan stores a plan under id
func (m *MemoryPlanStore) SavePlan(ctx context.Context, id string, plan *render.Plan) error {
	return m.put(m.plans, id, plan)
}

// LoadPlan returns the plan stored under id
func (m *MemoryPlanStore) LoadPlan(ctx context.Context, id string) (*render.Plan, error) {
	var plan render.Plan
	if err := m.get(m.plans, id, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SaveResult stores a built result under id
func (m *MemoryPlanStore) SaveResult(ctx context.Context, id string, result *render.Result) error {
	return m.put(m.results, id, result)
}

// LoadResult returns the result stored under id
func (m *MemoryPlanStore) LoadResult(ctx context.Context, id string) (*render.Result, error) {
	var result render.Result
	if err := m.get(m.results, id, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes the plan and result stored under id
func (m *MemoryPlanStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, id)
	delete(m.results, id)
	return nil
}

// Len returns the number of stored plans
func (m *MemoryPlanStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plans)
}

func (m *MemoryPlanStore) put(into map[string][]byte, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	into[id] = data
	return nil
}

func (m *MemoryPlanStore) get(from map[string][]byte, id string, v interface{}) error {
	m.mu.RLock()
	data, ok := from[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrPlanNotFound)
	}
	return json.Unmarshal(data, v)
}

// FilePlanStore implements PlanStore as JSON files under a directory shared by workers
type FilePlanStore struct {
	Dir string
}

// NewFilePlanStore creates the directory if needed
func NewFilePlanStore(dir string) (*FilePlanStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FilePlanStore{Dir: dir}, nil
}

// SavePlan writes <id>.plan.json
func (f *FilePlanStore) SavePlan(ctx context.Context, id string, plan *render.Plan) error {
	return f.write(f.path(id, "plan"), plan)
}

// LoadPlan reads <id>.plan.json
func (f *FilePlanStore) LoadPlan(ctx context.Context, id string) (*render.Plan, error) {
	var plan render.Plan
	if err := f.read(f.path(id, "plan"), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SaveResult writes <id>.result.json
func (f *FilePlanStore) SaveResult(ctx context.Context, id string, result *render.Result) error {
	return f.write(f.path(id, "result"), result)
}

// LoadResult reads <id>.result.json
func (f *FilePlanStore) LoadResult(ctx context.Context, id string) (*render.Result, error) {
	var result render.Result
	if err := f.read(f.path(id, "result"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes both files; missing files are not an error
func (f *FilePlanStore) Delete(ctx context.Context, id string) error {
	for _, kind := range []string{"plan", "result"} {
		if err := os.Remove(f.path(id, kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (f *FilePlanStore) path(id, kind string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s.%s.json", filepath.Base(id), kind))
}

func (f *FilePlanStore) write(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FilePlanStore) read(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrPlanNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
