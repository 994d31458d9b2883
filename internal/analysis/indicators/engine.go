// Package indicators provides technical indicator calculations with parallel processing.
package indicators

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"consensus-trader/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple values.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// Results holds the output of one CalculateAll run keyed by indicator name.
type Results struct {
	Single map[string][]float64
	Multi  map[string]map[string][]float64
	Errors map[string]error
}

// Series returns a single-value series by name.
func (r Results) Series(name string) ([]float64, bool) {
	v, ok := r.Single[name]
	return v, ok
}

// Component returns one named output of a multi-value indicator.
func (r Results) Component(name, key string) ([]float64, bool) {
	m, ok := r.Multi[name]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Engine provides parallel indicator calculation using a worker pool.
type Engine struct {
	workers     int
	indicators  map[string]Indicator
	multiIndics map[string]MultiValueIndicator
	mu          sync.RWMutex
}

// NewEngine creates a new indicator engine with the specified number of workers.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		workers:     workers,
		indicators:  make(map[string]Indicator),
		multiIndics: make(map[string]MultiValueIndicator),
	}
}

// RegisterIndicator registers a single-value indicator.
func (e *Engine) RegisterIndicator(ind Indicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indicators[ind.Name()] = ind
}

// RegisterMultiIndicator registers a multi-value indicator.
func (e *Engine) RegisterMultiIndicator(ind MultiValueIndicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiIndics[ind.Name()] = ind
}

type job struct {
	single Indicator
	multi  MultiValueIndicator
}

func (j job) name() string {
	if j.single != nil {
		return j.single.Name()
	}
	return j.multi.Name()
}

// CalculateAll calculates all registered indicators in parallel. Per-indicator
// failures are reported in Results.Errors; only cancellation fails the call.
func (e *Engine) CalculateAll(ctx context.Context, candles []models.Candle) (Results, error) {
	e.mu.RLock()
	jobs := make([]job, 0, len(e.indicators)+len(e.multiIndics))
	for _, ind := range e.indicators {
		jobs = append(jobs, job{single: ind})
	}
	for _, ind := range e.multiIndics {
		jobs = append(jobs, job{multi: ind})
	}
	e.mu.RUnlock()

	res := Results{
		Single: make(map[string][]float64),
		Multi:  make(map[string]map[string][]float64),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup

	work := make(chan job, len(jobs))
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				if ctx.Err() != nil {
					return
				}
				if j.single != nil {
					values, err := j.single.Calculate(candles)
					mu.Lock()
					if err != nil {
						res.Errors[j.name()] = err
					} else {
						res.Single[j.name()] = values
					}
					mu.Unlock()
					continue
				}
				values, err := j.multi.Calculate(candles)
				mu.Lock()
				if err != nil {
					res.Errors[j.name()] = err
				} else {
					res.Multi[j.name()] = values
				}
				mu.Unlock()
			}
		}()
	}

	for _, j := range jobs {
		work <- j
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Results{}, err
	}
	return res, nil
}

// Calculate calculates a specific single-value indicator by name.
func (e *Engine) Calculate(ctx context.Context, name string, candles []models.Candle) ([]float64, error) {
	e.mu.RLock()
	ind, ok := e.indicators[name]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("indicator %s not found", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ind.Calculate(candles)
}

// Names returns every registered indicator name in sorted order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.indicators)+len(e.multiIndics))
	for name := range e.indicators {
		names = append(names, name)
	}
	for name := range e.multiIndics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
