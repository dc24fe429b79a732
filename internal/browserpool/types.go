// Package browserpool implements the browser pool (C4): bounded leasing of
// Playwright browser contexts to the web action interpreter, grounded on
// the teacher's internal/tools/browser/pool.go.
package browserpool

import (
	"github.com/playwright-community/playwright-go"
)

// instance is one live browser + context + page, grounded on the teacher's
// BrowserInstance.
type instance struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	id      string
}

// reset clears cookies and navigates back to a blank page, grounded on the
// teacher's BrowserInstance.Reset, so a returned lease never leaks state
// (cookies, page URL) between tasks.
func (i *instance) reset() error {
	if i.context != nil {
		if err := i.context.ClearCookies(); err != nil {
			return err
		}
	}
	if i.page != nil {
		if _, err := i.page.Goto("about:blank"); err != nil {
			return err
		}
	}
	return nil
}

func (i *instance) cleanup() {
	if i.page != nil {
		_ = i.page.Close()
	}
	if i.context != nil {
		_ = i.context.Close()
	}
	if i.browser != nil {
		_ = i.browser.Close()
	}
}

// Lease is an exclusive, single-use handle to a browser page. Callers must
// call Release exactly once; Release(false) discards the underlying
// instance instead of returning it to the pool, for use after an error
// that may have left the page or context in a bad state.
type Lease struct {
	pool *Pool
	inst *instance
	used bool
}

// Page returns the Playwright page for this lease's exclusive use.
func (l *Lease) Page() playwright.Page {
	return l.inst.page
}

// ID returns a stable identifier for the underlying browser instance, for
// logging and metrics correlation.
func (l *Lease) ID() string {
	return l.inst.id
}

// Release returns the instance to the pool (ok=true) or discards it
// (ok=false). Calling Release more than once is a no-op.
func (l *Lease) Release(ok bool) {
	if l.used {
		return
	}
	l.used = true
	if ok {
		l.pool.release(l.inst)
	} else {
		l.pool.discard(l.inst)
	}
}
