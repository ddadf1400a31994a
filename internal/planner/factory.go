package planner

import (
	"context"
	"fmt"
	"os"

	"github.com/kairi-dev/kairi/internal/config"
)

// Factory creates and manages patch planners with circuit breakers.
// It auto-detects available planners from environment variables and
// supports automatic failover when the primary planner is unavailable.
type Factory struct {
	planners map[string]Planner
	breakers map[string]*CircuitBreaker
	primary  string
}

// PlannerConfig provides planner configuration settings.
// This interface matches the methods provided by userconfig.Config.
type PlannerConfig interface {
	PlannerOrder() []string
}

// factoryOptions holds configuration for creating a factory.
type factoryOptions struct {
	primary         string
	enabled         bool
	preferredOrder  []string
	enabledExplicit bool // Whether enabled was explicitly set
}

// FactoryOption configures a Factory.
type FactoryOption func(*factoryOptions)

// WithPrimaryPlanner sets the preferred planner name.
// If the primary planner is unavailable, the factory falls back to others.
func WithPrimaryPlanner(name string) FactoryOption {
	return func(o *factoryOptions) {
		o.primary = name
	}
}

// WithConfig applies planner configuration settings. A non-empty planner
// order makes its first entry the primary.
func WithConfig(cfg PlannerConfig) FactoryOption {
	return func(o *factoryOptions) {
		order := cfg.PlannerOrder()
		if len(order) > 0 {
			o.preferredOrder = order
			o.primary = order[0]
		}
	}
}

// WithEnabled explicitly enables or disables patch planning.
func WithEnabled(enabled bool) FactoryOption {
	return func(o *factoryOptions) {
		o.enabled = enabled
		o.enabledExplicit = true
	}
}

// NewFactory creates a factory with available planners.
// It auto-detects available planners based on environment variables:
// - authoring-service: available if KAIRI_PLANNER_URL is set
// - claude: available if ANTHROPIC_API_KEY is set
// - gemini: available if GOOGLE_API_KEY or GEMINI_API_KEY is set
//
// Returns ErrDisabled if planning is explicitly disabled via WithEnabled.
// Returns an error if no planners are available.
func NewFactory(ctx context.Context, opts ...FactoryOption) (*Factory, error) {
	o := &factoryOptions{
		primary: "authoring-service",
		enabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.enabledExplicit && !o.enabled {
		return nil, ErrDisabled
	}

	f := &Factory{
		planners: make(map[string]Planner),
		breakers: make(map[string]*CircuitBreaker),
		primary:  o.primary,
	}

	if os.Getenv(config.EnvPlannerURL) != "" {
		planner, err := NewHTTPPlannerFromEnv()
		if err == nil {
			f.register(planner)
		}
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		planner, err := NewClaudePlanner()
		if err == nil {
			f.register(planner)
		}
	}

	if os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "" {
		planner, err := NewGeminiPlanner(ctx)
		if err == nil {
			f.register(planner)
		}
	}

	if len(f.planners) == 0 {
		return nil, fmt.Errorf("no patch planners available: set %s, ANTHROPIC_API_KEY, or GOOGLE_API_KEY", config.EnvPlannerURL)
	}

	return f, nil
}

// NewFactoryWithPlanners creates a factory with the given planners.
// This is useful for testing with mock planners.
func NewFactoryWithPlanners(planners map[string]Planner, opts ...FactoryOption) *Factory {
	o := &factoryOptions{
		primary: "authoring-service",
		enabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}

	f := &Factory{
		planners: make(map[string]Planner),
		breakers: make(map[string]*CircuitBreaker),
		primary:  o.primary,
	}
	for name, planner := range planners {
		f.planners[name] = planner
		f.breakers[name] = NewCircuitBreaker(name)
	}
	return f
}

func (f *Factory) register(p Planner) {
	f.planners[p.Name()] = p
	f.breakers[p.Name()] = NewCircuitBreaker(p.Name())
}

// GetPlanner returns an available planner, respecting circuit breaker state.
// Returns the primary planner if available and its breaker allows requests.
// Otherwise, falls back to any available planner whose breaker allows.
// Returns an error if no planners are available.
func (f *Factory) GetPlanner(ctx context.Context) (Planner, error) {
	if planner, ok := f.planners[f.primary]; ok {
		if breaker := f.breakers[f.primary]; breaker != nil && breaker.Allow() {
			return planner, nil
		}
	}

	for name, planner := range f.planners {
		if name == f.primary {
			continue // Already tried primary
		}
		if breaker := f.breakers[name]; breaker != nil && breaker.Allow() {
			return planner, nil
		}
	}

	return nil, fmt.Errorf("no patch planners available: all circuit breakers are open")
}

// PlanPatch asks an available planner for a patch, recording the result on
// its breaker so repeated failures shift traffic away from it.
func (f *Factory) PlanPatch(ctx context.Context, req *Request) (*Response, error) {
	planner, err := f.GetPlanner(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := planner.PlanPatch(ctx, req)
	if err != nil {
		f.ReportFailure(planner.Name())
		return nil, err
	}
	f.ReportSuccess(planner.Name())
	return resp, nil
}

// SetOnBreakerTrip sets the callback to be invoked when any circuit breaker trips.
func (f *Factory) SetOnBreakerTrip(callback BreakerTripCallback) {
	for _, breaker := range f.breakers {
		breaker.SetOnTrip(callback)
	}
}

// ReportSuccess records a successful operation for the specified planner.
// This resets the circuit breaker failure count and closes the breaker.
func (f *Factory) ReportSuccess(name string) {
	if breaker, ok := f.breakers[name]; ok {
		breaker.RecordSuccess()
	}
}

// ReportFailure records a failed operation for the specified planner.
// This increments the circuit breaker failure count and may trip the breaker.
func (f *Factory) ReportFailure(name string) {
	if breaker, ok := f.breakers[name]; ok {
		breaker.RecordFailure()
	}
}

// AvailablePlanners returns names of planners whose circuit breakers
// are closed or half-open (i.e., allowing requests).
func (f *Factory) AvailablePlanners() []string {
	var available []string
	for name, breaker := range f.breakers {
		if breaker.Allow() {
			available = append(available, name)
		}
	}
	return available
}

// HasPlanner returns true if the factory has the specified planner.
func (f *Factory) HasPlanner(name string) bool {
	_, ok := f.planners[name]
	return ok
}

// PlannerCount returns the number of registered planners.
func (f *Factory) PlannerCount() int {
	return len(f.planners)
}
