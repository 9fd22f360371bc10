// Driver metrics for the Spectrum AWG host
//
// Copyright (C) 2026  AWG Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

// AWGMetrics bundles all metrics exported by the AWG host driver.
// Label conventions: every metric carries a "card" label with the card
// serial number; per-segment metrics additionally carry "segment".
type AWGMetrics struct {
	// Compile/upload pipeline
	CompilesTotal   *Counter   // full compile-and-upload passes started
	UploadsTotal    *Counter   // successful full uploads
	HotswapsTotal   *Counter   // successful single-segment hotswaps
	DigestSkips     *Counter   // digest gate no-ops
	Rollbacks       *Counter   // full-path failures that cleared cached state
	HotswapFailures *Counter   // hotswap attempts that reported an error
	CompileTime     *Histogram // full compile+upload wall time
	HotswapTime     *Histogram // hotswap wall time

	// Card session
	CardConnected    *Gauge   // 1 while a card handle is open
	CardConfigured   *Gauge   // 1 after configure-once has run this connection
	ConfigureCalls   *Counter // times the register configuration was applied
	HardwareErrors   *Counter // register/DMA call failures, labeled by op
	ResidentSegments *Gauge   // segments resident on the card

	registry *Registry
}

// NewAWGMetrics creates and registers all driver metrics in a fresh registry.
func NewAWGMetrics() *AWGMetrics {
	m := &AWGMetrics{registry: NewRegistry()}

	m.CompilesTotal = NewCounter("awg_compiles_total",
		"Full compile-and-upload passes started")
	m.UploadsTotal = NewCounter("awg_uploads_total",
		"Successful full sequencer program uploads")
	m.HotswapsTotal = NewCounter("awg_hotswaps_total",
		"Successful single-segment hotswaps")
	m.DigestSkips = NewCounter("awg_digest_skips_total",
		"Compile requests skipped because the program digest was unchanged")
	m.Rollbacks = NewCounter("awg_rollbacks_total",
		"Full-path failures that invalidated cached compile state")
	m.HotswapFailures = NewCounter("awg_hotswap_failures_total",
		"Hotswap attempts that returned an error")
	m.CompileTime = NewHistogram("awg_compile_seconds",
		"Wall time of full compile-and-upload passes", DefaultBuckets())
	m.HotswapTime = NewHistogram("awg_hotswap_seconds",
		"Wall time of single-segment hotswaps", DefaultBuckets())

	m.CardConnected = NewGauge("awg_card_connected",
		"1 while the card handle is open")
	m.CardConfigured = NewGauge("awg_card_configured",
		"1 after the one-time register configuration has been applied")
	m.ConfigureCalls = NewCounter("awg_configure_calls_total",
		"Times the one-time register configuration was applied")
	m.HardwareErrors = NewCounter("awg_hardware_errors_total",
		"Register/DMA call failures")
	m.ResidentSegments = NewGauge("awg_resident_segments",
		"Segment buffers currently resident on the card")

	for _, metric := range []Metric{
		m.CompilesTotal, m.UploadsTotal, m.HotswapsTotal, m.DigestSkips,
		m.Rollbacks, m.HotswapFailures, m.CompileTime, m.HotswapTime,
		m.CardConnected, m.CardConfigured, m.ConfigureCalls,
		m.HardwareErrors, m.ResidentSegments,
	} {
		m.registry.MustRegister(metric)
	}

	return m
}

// Registry returns the registry holding all driver metrics.
func (m *AWGMetrics) Registry() *Registry {
	return m.registry
}

// Gather collects all driver metrics in Prometheus text format.
func (m *AWGMetrics) Gather() string {
	return m.registry.Gather()
}
