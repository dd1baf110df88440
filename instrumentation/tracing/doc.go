// Package tracing turns engine hooks into traces.
//
// A CycleTracer emits one OpenTelemetry span per cycle, optionally with a
// child span per component evaluation. A BusyTimeTracer accumulates the wall
// time spent evaluating each component.
package tracing
