// Package authority classifies AI-proposed actions into capability levels
// and rejects forbidden ones before any side effect. The gate sits in front
// of every AI-adjacent call site; deterministic engine code and human admin
// actions do not pass through it.
package authority

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hustlexp/backend/internal/fault"
)

// Level is the capability level assigned to an (action, subsystem) pair.
type Level int

const (
	// A0 — Forbidden: AI may not participate; any AI output is discarded.
	A0 Level = iota
	// A1 — Read-only: AI may summarize or classify for display.
	A1
	// A2 — Proposal: AI output is a proposal; a deterministic validator
	// decides. AI cannot mutate directly.
	A2
	// A3 — Restricted execution: AI may trigger a bounded, reversible
	// action with explicit user consent, rate limits, and audit.
	A3
)

func (l Level) String() string {
	switch l {
	case A0:
		return "A0_FORBIDDEN"
	case A1:
		return "A1_READ_ONLY"
	case A2:
		return "A2_PROPOSAL"
	case A3:
		return "A3_RESTRICTED_EXECUTION"
	default:
		return fmt.Sprintf("A?(%d)", int(l))
	}
}

// Decision is the gate's verdict on one proposed action.
type Decision struct {
	Allowed       bool // true iff the AI call may execute a side effect
	RequiredLevel Level
	Reason        string
}

// hardA0Subsystems are always forbidden to AI regardless of registry state
// or any input. Money movement, reward appends, and account standing never
// take AI output.
var hardA0Subsystems = map[string]bool{
	"rewards.xp":        true,
	"rewards.trust":     true,
	"escrow.release":    true,
	"escrow.capture":    true,
	"users.ban":         true,
	"users.suspend":     true,
	"disputes.finalize": true,
}

// hardA0Actions catch attempts that name the forbidden operation directly,
// whatever subsystem string they arrive under.
var hardA0Actions = map[string]bool{
	"award_xp":          true,
	"change_trust_tier": true,
	"release_payout":    true,
	"capture_payment":   true,
	"force_refund":      true,
	"ban_user":          true,
	"suspend_user":      true,
	"finalize_dispute":  true,
}

// Gate is the deterministic classifier. Safe for concurrent use.
type Gate struct {
	mu       sync.RWMutex
	registry map[string]Level // subsystem → level
}

// NewGate creates a gate with the default subsystem registry.
func NewGate() *Gate {
	g := &Gate{registry: make(map[string]Level)}
	g.loadDefaultRegistry()
	return g
}

func (g *Gate) loadDefaultRegistry() {
	defaults := map[string]Level{
		// Read surfaces AI may summarize.
		"wallet.read":   A1,
		"rewards.read":  A1,
		"tasks.read":    A1,
		"proofs.read":   A1,
		"disputes.read": A1,

		// Proposal surfaces: AI suggests, a validator decides.
		"tasks.categorize": A2,
		"proofs.precheck":  A2,
		"disputes.triage":  A2,
		"feed.rank":        A2,

		// Bounded reversible actions with consent and audit.
		"notifications.nudge": A3,
		"tasks.draft":         A3,
	}
	for subsystem, level := range defaults {
		g.registry[subsystem] = level
	}
}

// Register sets the level for a subsystem. Hard-A0 subsystems cannot be
// re-registered upward; the attempt is silently pinned to A0.
func (g *Gate) Register(subsystem string, level Level) {
	if hardA0Subsystems[normalize(subsystem)] {
		level = A0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registry[normalize(subsystem)] = level
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate classifies (action, subsystem). Unknown subsystems fail secure
// to A0. Allowed is true only at A3: every lower level means the AI output
// must not directly cause a side effect.
func (g *Gate) Validate(action, subsystem string) Decision {
	action = normalize(action)
	subsystem = normalize(subsystem)

	if hardA0Subsystems[subsystem] || hardA0Actions[action] {
		return Decision{
			Allowed:       false,
			RequiredLevel: A0,
			Reason:        fmt.Sprintf("%s/%s touches money, rewards, or account standing; AI participation is forbidden", subsystem, action),
		}
	}

	g.mu.RLock()
	level, known := g.registry[subsystem]
	g.mu.RUnlock()
	if !known {
		return Decision{
			Allowed:       false,
			RequiredLevel: A0,
			Reason:        fmt.Sprintf("subsystem %s is unregistered; failing secure", subsystem),
		}
	}

	d := Decision{RequiredLevel: level}
	switch level {
	case A3:
		d.Allowed = true
		d.Reason = fmt.Sprintf("%s/%s cleared for restricted execution", subsystem, action)
	case A2:
		d.Reason = fmt.Sprintf("%s/%s is proposal-only; route through the deterministic validator", subsystem, action)
	case A1:
		d.Reason = fmt.Sprintf("%s/%s is read-only for AI", subsystem, action)
	default:
		d.Reason = fmt.Sprintf("%s/%s is forbidden to AI", subsystem, action)
	}
	return d
}

// Require is Validate with the rejection materialized as an
// AUTHORITY_VIOLATION fault. Call sites invoke this before side effects.
func (g *Gate) Require(action, subsystem string) error {
	if d := g.Validate(action, subsystem); !d.Allowed {
		return fault.New(fault.AuthorityViolation, "%s", d.Reason)
	}
	return nil
}
