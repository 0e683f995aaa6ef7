/*
Package health provides health check mechanisms for probing the reachability
of external dependencies the cache daemon relies on — chiefly the IPFS
daemon an objectstore.Adapter talks to.

This package implements a TCP health check. A Checker produces a Result; a
Status accumulates consecutive results into a hysteresis-debounced
healthy/unhealthy verdict so a single flaky probe doesn't flap the reported
state. Monitor runs a Checker on an interval and feeds each Result through a
Status, reporting the current verdict to a callback after every check.

# Architecture

	┌─────────────────────────────────────────────────┐
	│                 Checker Interface                │
	│  • Check(ctx) Result                              │
	│  • Type() CheckType                               │
	└────────────────────────┬──────────────────────────┘
	                         ▼
	                   ┌──────────┐
	                   │TCPChecker│
	                   └──────────┘
	                         │
	                         ▼
	                   dial daemon
	                     API port

# Health Check Flow

 1. Monitor waits for StartPeriod (grace period while the daemon boots).
 2. Every Interval: run the Checker.
 3. Status.Update folds the Result in: Retries consecutive failures before
    the component flips to unhealthy; one success clears it immediately.
 4. Monitor reports the current Status.Healthy to its callback, which the
    inject and serve-client commands wire to metrics.RegisterComponent so
    it shows up on /health and /ready.

# TCP Health Checks

	Check Type: TCP
	Configuration:
	├── Address: 127.0.0.1:5001
	└── Timeout: 5 seconds

A bare TCP connect is the cheapest possible probe: it does not confirm the
daemon answers the IPFS API correctly, only that something is listening.
Used as the default serve-client/inject readiness probe against
IPFSAPIAddr when the object store backend is "ipfs"; skipped entirely for
the "local" backend, which has no daemon to reach.

# Usage

	checker := health.NewTCPChecker("127.0.0.1:5001")
	mon := health.NewMonitor(checker, health.DefaultConfig(), func(name string, healthy bool, msg string) {
	    metrics.RegisterComponent(name, healthy, msg)
	})
	go mon.Run(ctx, "objectstore")

# Hysteresis

Status.Update only flips Healthy to false after config.Retries consecutive
failures, and flips it back to true on the very next success. This avoids
reporting every transient daemon hiccup as an outage while still reacting
immediately once the daemon recovers.
*/
package health
