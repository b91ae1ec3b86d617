package application

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Outcome string

const (
	OutcomeUndetermined      Outcome = ""
	OutcomePass              Outcome = "PASS"
	OutcomeFail              Outcome = "FAIL"
	OutcomeNotYetImplemented Outcome = "NOT YET IMPLEMENTED"
)

// Result is the outcome of a single requirement check. Reason is only
// meaningful for failures.
type Result struct {
	Outcome Outcome
	Reason  string
}

func Pass() Result {
	return Result{Outcome: OutcomePass}
}

func Fail(format string, args ...any) Result {
	return Result{Outcome: OutcomeFail, Reason: fmt.Sprintf(format, args...)}
}

func NotYetImplemented(reason string) Result {
	return Result{Outcome: OutcomeNotYetImplemented, Reason: reason}
}

// Check returns Pass when ok holds and a failure carrying reason otherwise.
func Check(ok bool, reason string) Result {
	if ok {
		return Pass()
	}
	return Result{Outcome: OutcomeFail, Reason: reason}
}

func (r Result) Passed() bool {
	return r.Outcome == OutcomePass
}

func (r Result) IsSet() bool {
	return r.Outcome != OutcomeUndetermined
}

func (r Result) String() string {
	if r.Outcome == OutcomeFail && r.Reason != "" {
		return string(r.Outcome) + " " + r.Reason
	}
	return string(r.Outcome)
}

type Entry struct {
	ID     string
	Result Result
}

// Results is the per-run requirement -> result mapping of a scenario. Every
// declared requirement is present from construction on, so none can go
// missing from the final report. Once sealed, writes are dropped.
type Results struct {
	mu      sync.Mutex
	ids     []string
	entries map[string]Result
	sealed  bool
}

func NewResults(ids ...string) *Results {
	r := &Results{
		ids:     make([]string, 0, len(ids)),
		entries: make(map[string]Result, len(ids)),
	}
	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			continue
		}
		r.ids = append(r.ids, id)
		r.entries[id] = Result{}
	}
	return r
}

// IDs returns the declared requirement identifiers in declaration order.
func (r *Results) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ids...)
}

// Set records the result for id and reports whether it was stored.
// Undeclared ids are rejected.
func (r *Results) Set(id string, res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return false
	}
	if _, ok := r.entries[id]; !ok {
		return false
	}
	r.entries[id] = res
	return true
}

// SetIfUnset records res only when no result has been recorded for id yet.
func (r *Results) SetIfUnset(id string, res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return false
	}
	cur, ok := r.entries[id]
	if !ok || cur.IsSet() {
		return false
	}
	r.entries[id] = res
	return true
}

func (r *Results) Get(id string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entries[id]
}

// FailUnset marks every requirement without a result as failed.
func (r *Results) FailUnset(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}
	for id, res := range r.entries {
		if !res.IsSet() {
			r.entries[id] = Result{Outcome: OutcomeFail, Reason: reason}
		}
	}
}

// Seal freezes the mapping and returns its entries sorted by id.
func (r *Results) Seal() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return r.entriesLocked()
}

func (r *Results) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entriesLocked()
}

func (r *Results) entriesLocked() []Entry {
	entries := make([]Entry, 0, len(r.entries))
	for id, res := range r.entries {
		entries = append(entries, Entry{ID: id, Result: res})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Report is the final, immutable result set of one scenario run.
type Report struct {
	Scenario string
	Entries  []Entry
}

func NewReport(scenario string, entries []Entry) Report {
	return Report{Scenario: scenario, Entries: entries}
}

// Overall is PASS only when every entry passed.
func (r Report) Overall() Outcome {
	for _, e := range r.Entries {
		if !e.Result.Passed() {
			return OutcomeFail
		}
	}
	return OutcomePass
}

// Payload renders the report in the line format consumed by the results
// topic and the result log.
func (r Report) Payload() string {
	var sb strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&sb, "%s: %s;\n", e.ID, e.Result)
	}
	fmt.Fprintf(&sb, "OVERALL: %s;\n", r.Overall())
	return sb.String()
}
