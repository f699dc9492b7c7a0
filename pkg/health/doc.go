/*
Package health implements target-agnostic health checking: a Checker
interface with HTTP and TCP implementations, plus a Status type that
turns a stream of check Results into a debounced healthy/unhealthy
verdict using a consecutive-failure/success threshold.

svcmonitor builds its application-instance monitor on top of this
package, one Checker and Status per tracked hostname, rather than
reinventing consecutive-failure bookkeeping.

# Checkers

HTTPChecker issues an HTTP request and considers the target healthy
when the response status falls in [ExpectedStatusMin,
ExpectedStatusMax] (default 200-399).

TCPChecker dials a TCP address and considers the target healthy iff
the connection succeeds within Timeout.

Both satisfy Checker:

	type Checker interface {
	        Check(ctx context.Context) Result
	        Type() CheckType
	}

# Status

Status debounces individual check results into a single Healthy bool,
flipping to unhealthy only after Config.Retries consecutive failures
and back to healthy on the very next success:

	status := health.NewStatus()
	status.Update(checker.Check(ctx), config)
	if !status.Healthy {
	        // act on the target going down
	}

# Config

	health.DefaultConfig() // 30s interval, 10s timeout, 3 retries
*/
package health
