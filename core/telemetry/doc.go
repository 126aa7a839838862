// Package telemetry produces synthetic sensor readings and drives their
// publication. Generator draws readings around fixed base values, Encode
// turns them into the JSON payload, and Loop publishes them until its
// context is cancelled or a configured count is reached.
package telemetry
