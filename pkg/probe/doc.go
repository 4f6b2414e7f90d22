// Package probe implements the single-shot readiness checks run against a
// remote conference page and the bounded poller that repeats them.
//
// Every check goes through an Executor, which classifies remote failures:
// recognized driver errors (page not ready, target closed, script threw)
// become a *Failure with Kind FailureDriver and never abort a run; anything
// else is returned unchanged and is fatal.
package probe
