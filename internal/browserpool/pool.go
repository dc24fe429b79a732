package browserpool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/agentserver/internal/obs"
)

// Config configures pool capacity and browser launch behavior, grounded on
// the teacher's browser.PoolConfig.
type Config struct {
	// Capacity bounds concurrent leases. SPEC_FULL.md calls for a
	// configurable pool sized 3-8; values outside that range are clamped.
	Capacity       int
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	RemoteURL      string
	PageTimeout    time.Duration
}

// DefaultConfig returns a Config with a mid-range capacity and sane
// defaults, mirroring the teacher's NewPool default handling.
func DefaultConfig() Config {
	return Config{
		Capacity:       5,
		Headless:       true,
		ViewportWidth:  1366,
		ViewportHeight: 768,
		PageTimeout:    30 * time.Second,
	}
}

// Pool hands out exclusive browser leases up to Capacity, lazily starting
// the Playwright driver on first Acquire rather than at construction, so a
// process that never runs a browser-backed tool never pays that cost.
// Grounded on the teacher's browser.Pool.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	pw        *playwright.Playwright
	started   bool
	startErr  error
	available []*instance
	created   int
	closed    bool
	userAgent int

	metrics *obs.Metrics
}

// New builds a Pool. cfg.Capacity is clamped to [3, 8] per SPEC_FULL.md §4.4.
func New(cfg Config, metrics *obs.Metrics) *Pool {
	if cfg.Capacity < 3 {
		cfg.Capacity = 3
	}
	if cfg.Capacity > 8 {
		cfg.Capacity = 8
	}
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = 1366
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = 768
	}
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	return &Pool{cfg: cfg, metrics: metrics}
}

// Acquire blocks until a lease is available or ctx is done, returning
// KindBrowserUnavailable if the deadline elapses or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.ensureStarted(); err != nil {
		return nil, obs.Wrap(obs.KindBrowserUnavailable, err)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, obs.New(obs.KindBrowserUnavailable, "pool is closed")
		}
		if len(p.available) > 0 {
			inst := p.available[len(p.available)-1]
			p.available = p.available[:len(p.available)-1]
			p.mu.Unlock()
			p.setGaugeLocked(1)
			return &Lease{pool: p, inst: inst}, nil
		}
		if p.created < p.cfg.Capacity {
			p.created++
			p.mu.Unlock()
			inst, err := p.createInstance()
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, obs.Wrap(obs.KindBrowserUnavailable, err)
			}
			p.setGaugeLocked(1)
			return &Lease{pool: p, inst: inst}, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, obs.New(obs.KindBrowserUnavailable, "timed out waiting for a browser lease")
		case <-time.After(25 * time.Millisecond):
			// Poll: a concurrent Release may have freed an instance.
		}
	}
}

func (p *Pool) setGaugeLocked(delta float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.BrowserLeasesInUse.Add(delta)
}

// release returns inst to the available pool after resetting it per
// spec.md §4.4 ("the context is reset: cookies cleared, navigation to
// blank"). A reset failure discards the instance instead of returning a
// possibly-dirty one to the next lease.
func (p *Pool) release(inst *instance) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		if err := inst.reset(); err != nil {
			p.discard(inst)
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.BrowserLeasesInUse.Sub(1)
	}
	if p.closed {
		inst.cleanup()
		p.created--
		return
	}
	p.available = append(p.available, inst)
}

func (p *Pool) discard(inst *instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.BrowserLeasesInUse.Sub(1)
	}
	inst.cleanup()
	p.created--
}

// Close tears down every instance and stops the Playwright driver.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, inst := range p.available {
		inst.cleanup()
	}
	p.available = nil
	p.created = 0
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			return fmt.Errorf("stop playwright: %w", err)
		}
	}
	return nil
}

func (p *Pool) ensureStarted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return p.startErr
	}
	p.started = true

	if strings.TrimSpace(p.cfg.RemoteURL) == "" {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			p.startErr = fmt.Errorf("install playwright: %w", err)
			return p.startErr
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		p.startErr = fmt.Errorf("start playwright: %w", err)
		return p.startErr
	}
	p.pw = pw
	return nil
}

func (p *Pool) createInstance() (*instance, error) {
	p.mu.Lock()
	pw := p.pw
	p.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("playwright driver not started")
	}

	var browser playwright.Browser
	var err error
	if remote := normalizeRemoteURL(p.cfg.RemoteURL); remote != "" {
		browser, err = pw.Chromium.Connect(remote)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(p.cfg.Headless),
			Timeout:  playwright.Float(float64(p.cfg.PageTimeout.Milliseconds())),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("launch/connect browser: %w", err)
	}

	ctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(p.nextUserAgent()),
		Viewport: &playwright.Size{
			Width:  p.cfg.ViewportWidth,
			Height: p.cfg.ViewportHeight,
		},
		AcceptDownloads:   playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := ctx.NewPage()
	if err != nil {
		_ = ctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.cfg.PageTimeout.Milliseconds()))

	return &instance{
		browser: browser,
		context: ctx,
		page:    page,
		id:      fmt.Sprintf("browser-%d", time.Now().UnixNano()),
	}, nil
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

func (p *Pool) nextUserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ua := userAgents[p.userAgent%len(userAgents)]
	p.userAgent++
	return ua
}

func normalizeRemoteURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") {
		return "ws://" + strings.TrimPrefix(value, "http://")
	}
	if strings.HasPrefix(value, "https://") {
		return "wss://" + strings.TrimPrefix(value, "https://")
	}
	return value
}

// Stats reports current pool utilization for operator dashboards.
type Stats struct {
	Capacity  int
	Available int
	InUse     int
	Closed    bool
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:  p.cfg.Capacity,
		Available: len(p.available),
		InUse:     p.created - len(p.available),
		Closed:    p.closed,
	}
}
