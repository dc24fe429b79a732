package browserpool

// This package standardizes on github.com/playwright-community/playwright-go
// for the single browser pool the spec describes. The teacher repo also
// imports github.com/chromedp/chromedp for a handful of legacy tools
// alongside Playwright; that dependency has no separate home here because
// running two competing browser-automation drivers behind one pool
// interface would contradict the "one browser pool" shape in SPEC_FULL.md
// §4.4 — it is listed as dropped (not adapted) in the grounding ledger.
