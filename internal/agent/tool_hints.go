package agent

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Error enhancement turns raw tool failures into bounded-retry guidance the
// model can act on. Failures are normalized to a signature, classified
// against an ordered hint table, and counted per (tool, signature) so a
// model that ignores ordinary error text still gets told to stop repeating
// the identical call.

const (
	// DefaultFailureWindow is the sliding window for consecutive-failure
	// counting. A signature not seen again within the window expires.
	DefaultFailureWindow = 60 * time.Second

	// DefaultStopRetryThreshold is the consecutive-failure count at which
	// the enhancer switches from retry-suggested to stop-retry.
	DefaultStopRetryThreshold = 3
)

var (
	// pathPattern matches unix and windows filesystem paths.
	pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.~-]+)+[\\/]?`)

	// numberPattern matches numeric literals left after path stripping.
	numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// NormalizeErrorSignature reduces an error message to a stable signature by
// replacing filesystem paths and numeric literals with placeholders.
func NormalizeErrorSignature(message string) string {
	sig := pathPattern.ReplaceAllString(message, "<path>")
	sig = numberPattern.ReplaceAllString(sig, "<n>")
	return strings.TrimSpace(sig)
}

// hintRule maps an error pattern to recovery guidance. First match wins.
type hintRule struct {
	pattern *regexp.Regexp
	hint    string
}

var hintRules = []hintRule{
	// Filesystem errors.
	{regexp.MustCompile(`(?i)no such file|not a directory|file exists|is a directory`),
		"Check that the path exists and is the right kind of entry; list the parent directory before retrying."},
	{regexp.MustCompile(`(?i)permission denied|read-only file system`),
		"The target is not writable from this process. Pick a path inside the workspace or ask for elevated access."},
	// Shell/process errors.
	{regexp.MustCompile(`(?i)command not found|executable file not found|exit status <n>|signal: `),
		"The command is unavailable or failed. Verify the binary name and arguments, or try an equivalent built-in tool."},
	// Network errors.
	{regexp.MustCompile(`(?i)connection refused|connection reset|no such host|i/o timeout|network is unreachable|dns`),
		"The remote endpoint is unreachable. Confirm the address and retry once; if it persists, the service is down."},
	// API/auth status codes.
	{regexp.MustCompile(`(?i)status(?: code)? <n>|unauthorized|forbidden|rate limit|too many requests|invalid api key`),
		"The API rejected the call. Check credentials and quotas before retrying; backoff if rate limited."},
	// Agent-delegation limits.
	{regexp.MustCompile(`(?i)RECURSION|MAX_DEPTH|NOT_ALLOWED|delegation`),
		"Delegation limits were hit. Solve the sub-task directly instead of delegating further."},
}

const genericHint = "Try a different approach: adjust the input or use another tool rather than repeating the identical call."

// classifyHint returns the first matching recovery hint for a normalized
// signature.
func classifyHint(signature string) string {
	for _, rule := range hintRules {
		if rule.pattern.MatchString(signature) {
			return rule.hint
		}
	}
	return genericHint
}

// failureKey identifies one failure streak.
type failureKey struct {
	toolID    string
	signature string
}

type failureEntry struct {
	count      int
	lastSeenAt time.Time
}

// FailureTracker maintains sliding-window consecutive-failure counters per
// (tool, normalized signature). It is a process-wide singleton; entries are
// uniquely keyed so concurrent unrelated requests never contend.
type FailureTracker struct {
	mu        sync.Mutex
	entries   map[failureKey]*failureEntry
	window    time.Duration
	threshold int
	now       func() time.Time
}

// NewFailureTracker creates a tracker with the default window and threshold.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		entries:   make(map[failureKey]*failureEntry),
		window:    DefaultFailureWindow,
		threshold: DefaultStopRetryThreshold,
		now:       time.Now,
	}
}

// RecordFailure registers a failure and returns the current streak count.
// A streak whose last failure fell outside the window restarts at 1.
func (t *FailureTracker) RecordFailure(toolID, signature string) int {
	key := failureKey{toolID: toolID, signature: signature}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[key]
	if entry == nil || now.Sub(entry.lastSeenAt) > t.window {
		entry = &failureEntry{}
		t.entries[key] = entry
	}
	entry.count++
	entry.lastSeenAt = now
	return entry.count
}

// RecordSuccess resets every streak for the tool. The next identical
// failure is reported with count 1.
func (t *FailureTracker) RecordSuccess(toolID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		if key.toolID == toolID {
			delete(t.entries, key)
		}
	}
}

// ShouldStopRetrying reports whether the streak has reached the stop-retry
// threshold.
func (t *FailureTracker) ShouldStopRetrying(count int) bool {
	return count >= t.threshold
}

// Enhance formats a failure into the three tagged segments the model sees:
// the raw error, a recovery hint, and a retry or stop-retry marker.
func (t *FailureTracker) Enhance(toolID string, rawErr error) string {
	signature := NormalizeErrorSignature(rawErr.Error())
	count := t.RecordFailure(toolID, signature)
	hint := classifyHint(signature)

	marker := "[retry-suggested] A single retry with corrected input may succeed."
	if t.ShouldStopRetrying(count) {
		marker = fmt.Sprintf("[stop-retry] This call has failed %d times in a row. Do not repeat it; change strategy.", count)
	}

	return fmt.Sprintf("[error] %s\n[hint] %s\n%s", rawErr.Error(), hint, marker)
}
