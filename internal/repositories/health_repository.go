package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks one backend. Critical probes mark the report down when they
// fail; the rest only degrade it.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// ProbeOption customises the probe-backed health repository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout sets the timeout for probes that do not declare one.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(repo *probeHealthRepository) {
		if timeout > 0 {
			repo.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock, mostly for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(repo *probeHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository builds a HealthRepository running every probe concurrently.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Check == nil {
			return nil, errors.New("health repository: probe requires a name and a check")
		}
	}
	repo := &probeHealthRepository{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(r.probes))
		down    bool
	)
	for _, probe := range r.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()

			timeout := probe.Timeout
			if timeout <= 0 {
				timeout = r.timeout
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := r.now()
			err := probe.Check(probeCtx)
			end := r.now()

			result := domain.DependencyHealth{
				Status:    domain.HealthOK,
				Detail:    "ok",
				Latency:   end.Sub(start),
				CheckedAt: end,
			}
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded):
				result.Status = domain.HealthDegraded
				result.Detail = "timeout"
			default:
				result.Status = domain.HealthDegraded
				result.Detail = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			if result.Status != domain.HealthOK && probe.Critical {
				result.Status = domain.HealthDown
				down = true
			}
			results[probe.Name] = result
		}(probe)
	}
	wg.Wait()

	status := domain.HealthOK
	for _, result := range results {
		if result.Status != domain.HealthOK {
			status = domain.HealthDegraded
		}
	}
	if down {
		status = domain.HealthDown
	}
	return domain.HealthReport{
		Status:       status,
		Dependencies: results,
		GeneratedAt:  r.now(),
	}, nil
}
