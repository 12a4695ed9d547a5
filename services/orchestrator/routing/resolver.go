// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing selects the specialist agent for a chat turn.
//
// Routing looks at, in order: an explicit caller hint, attached file names,
// the selected standards, and finally the message text. The first signal
// that matches wins, and the decision records a reason string so the choice
// is auditable in logs and traces.
package routing

import (
	"log/slog"
	"strings"
)

// Route identifies which specialist agent should serve a turn.
type Route string

const (
	// RouteDefault is the general compliance assistant.
	RouteDefault Route = "default"
	// RouteAir evaluates Asset Information Requirements documents.
	RouteAir Route = "air"
	// RouteEir evaluates Exchange Information Requirements documents.
	RouteEir Route = "eir"
	// RouteBep compares BIM Execution Plans against AIR/EIR requirements.
	RouteBep Route = "bep"
)

// Decision is the outcome of route resolution.
//
// # Fields
//
//   - Route: The selected route.
//   - Reason: Machine-readable reason string recording which signal matched
//     ("explicit_hint", "filename:air", "standards:eir",
//     "message:bep+air_or_eir", "fallback:default", ...).
type Decision struct {
	Route  Route
	Reason string
}

// ParseRoute parses a route hint, case-insensitively. The second return is
// false when the hint names no known route.
func ParseRoute(hint string) (Route, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "default":
		return RouteDefault, true
	case "air":
		return RouteAir, true
	case "eir":
		return RouteEir, true
	case "bep":
		return RouteBep, true
	default:
		return RouteDefault, false
	}
}

// Signals carries the per-turn inputs route resolution inspects.
type Signals struct {
	Hint        string
	FileNames   []string
	StandardIDs []string
	Message     string
}

// DetermineRoute resolves the route for a turn.
//
// # Description
//
// Applies the precedence ladder: explicit hint, then attached file names,
// then selected standards, then message text, then the default route.
// Matching is lowercase substring matching throughout; a BEP marker combined
// with an AIR or EIR marker routes to the BEP comparison agent.
//
// # Inputs
//
//   - sig: The turn's routing signals.
//
// # Outputs
//
//   - Decision: Selected route plus the reason string for the match.
//
// # Examples
//
//	d := DetermineRoute(Signals{FileNames: []string{"ProjectAIR.pdf"}})
//	// d.Route == RouteAir, d.Reason == "filename:air"
func DetermineRoute(sig Signals) Decision {
	if route, ok := ParseRoute(sig.Hint); ok {
		return Decision{Route: route, Reason: "explicit_hint"}
	}

	names := strings.ToLower(strings.Join(sig.FileNames, " "))
	if names != "" {
		hasBep := strings.Contains(names, "bep")
		hasAir := strings.Contains(names, "air")
		hasEir := strings.Contains(names, "eir")
		switch {
		case hasBep && (hasAir || hasEir):
			return Decision{Route: RouteBep, Reason: "filename_combo:bep+air_or_eir"}
		case hasEir:
			return Decision{Route: RouteEir, Reason: "filename:eir"}
		case hasAir:
			return Decision{Route: RouteAir, Reason: "filename:air"}
		}
	}

	standards := strings.ToLower(strings.Join(sig.StandardIDs, " "))
	if strings.Contains(standards, "eir") {
		return Decision{Route: RouteEir, Reason: "standards:eir"}
	}
	if strings.Contains(standards, "air") {
		return Decision{Route: RouteAir, Reason: "standards:air"}
	}

	message := strings.ToLower(sig.Message)
	if message != "" {
		hasBep := strings.Contains(message, "bep")
		hasAir := strings.Contains(message, "air")
		hasEir := strings.Contains(message, "eir")
		switch {
		case hasBep && (hasAir || hasEir):
			return Decision{Route: RouteBep, Reason: "message:bep+air_or_eir"}
		case hasEir:
			return Decision{Route: RouteEir, Reason: "message:eir"}
		case hasAir:
			return Decision{Route: RouteAir, Reason: "message:air"}
		}
	}

	return Decision{Route: RouteDefault, Reason: "fallback:default"}
}

// AgentTable maps routes to configured agent reference names.
//
// # Fields
//
//   - Default: Required. Agent serving the default route and any route with
//     no configured specialist.
//   - Air, Eir, Bep: Optional specialist agent names.
type AgentTable struct {
	Default string
	Air     string
	Eir     string
	Bep     string
}

// AgentNameFor returns the configured agent name for a route, falling back
// to the default agent (with a warning) when the route has no specialist.
func (t AgentTable) AgentNameFor(route Route) string {
	var name string
	switch route {
	case RouteAir:
		name = t.Air
	case RouteEir:
		name = t.Eir
	case RouteBep:
		name = t.Bep
	}
	if name == "" {
		if route != RouteDefault {
			slog.Warn("No agent configured for route, using default agent",
				"route", string(route), "default_agent", t.Default)
		}
		return t.Default
	}
	return name
}

// NormalizeAgentReferenceName converts an agent reference into the runtime's
// canonical name form.
//
// # Description
//
// Takes the part before the first ':' (dropping any version tag), lowercases
// it, maps every non-alphanumeric rune to '-', collapses runs of '-', trims
// leading and trailing '-', and caps the result at 63 bytes.
//
// # Examples
//
//	NormalizeAgentReferenceName("Comply AIR:v3") // "comply-air"
func NormalizeAgentReferenceName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	normalized := b.String()
	for strings.Contains(normalized, "--") {
		normalized = strings.ReplaceAll(normalized, "--", "-")
	}
	normalized = strings.Trim(normalized, "-")
	if len(normalized) > 63 {
		normalized = strings.TrimRight(normalized[:63], "-")
	}
	return normalized
}
