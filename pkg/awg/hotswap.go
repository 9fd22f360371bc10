package awg

import (
	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/log"
	"spectrum-awg-host/pkg/pipeline"
)

// HotswapRemapSrc patches the source-index vector of the remap operation
// on one channel of one segment and rewrites only that segment's buffer
// on the card, reusing the compiled output of every other segment as its
// phase seed. Playback is never interrupted; the step graph is not
// re-uploaded; the card keeps replaying the old buffer until the write
// lands.
//
// Any failure leaves the resident program and the cached state exactly
// as they were: the patched bundle is promoted only after the buffer
// write succeeds.
func (d *Driver) HotswapRemapSrc(segmentName, channel string, newSrc []int) error {
	// Nothing is hardware-resident in simulation mode, so there is
	// nothing to patch.
	if d.cfg.Simulation {
		d.logger.Debug("hotswap ignored in simulation mode")
		return nil
	}

	if d.cached == nil || d.cached.session == nil {
		return errors.SessionStateError("hotswap requires a resident upload session; run a full compile/upload first")
	}
	if d.cached.compiled == nil {
		return errors.SessionStateError("hotswap requires a prior compiled segment set as phase seed")
	}

	// Validate and patch the intent before touching the pipeline; lookup
	// and shape errors must come out of the patch itself.
	patched, err := d.cached.program.WithRemapSrc(segmentName, channel, newSrc)
	if err != nil {
		d.m.HotswapFailures.Inc(d.cardLabels())
		return err
	}
	idx, ok := d.cached.indexByName[segmentName]
	if !ok {
		d.m.HotswapFailures.Inc(d.cardLabels())
		return errors.SegmentLookupError(segmentName)
	}

	done := d.m.HotswapTime.Timer(d.cardLabels())
	defer done()

	card := d.card

	// The card runs at whatever rate its PLL actually locked to, which
	// can differ from the requested rate. Compiling the replacement at
	// any other rate would detune every tone in the segment.
	liveRate, err := card.SampleRateHz()
	if err != nil {
		return d.hotswapFail(segmentName, errors.HardwareControlError("read live sample rate", err))
	}
	resolved, err := d.pipe.Resolve(patched, liveRate)
	if err != nil {
		return d.hotswapFail(segmentName, err)
	}
	quantized, err := d.pipe.Quantize(resolved, d.cfg.SegmentQuantumS)
	if err != nil {
		return d.hotswapFail(segmentName, err)
	}

	maxValue, err := card.MaxSampleValue()
	if err != nil {
		return d.hotswapFail(segmentName, errors.HardwareControlError("read max sample value", err))
	}

	compiled, err := d.pipe.Compile(quantized, pipeline.CompileOptions{
		Setup:          d.physicalSetup,
		FullScaleMV:    float64(d.cfg.CardMaxMV),
		FullScaleCode:  maxValue - 1,
		SegmentIndices: []int{idx},
		Seed:           d.cached.compiled,
	})
	if err != nil {
		return d.hotswapFail(segmentName, err)
	}

	if err := uploadSegmentOnly(card, compiled, idx); err != nil {
		return d.hotswapFail(segmentName, err)
	}

	// The buffer is resident: promote the patched bundle as one value.
	// The session is unchanged, the step graph on the card is unchanged.
	d.cached = &compileState{
		hash:        patched.Digest(),
		program:     patched,
		quantized:   quantized,
		compiled:    compiled,
		indexByName: d.cached.indexByName,
		session:     d.cached.session,
	}
	d.m.HotswapsTotal.Inc(d.cardLabels())
	d.logger.WithFields(log.Fields{
		"segment": segmentName,
		"channel": channel,
		"hash":    shortHash(d.cached.hash),
	}).Info("hotswap complete")
	return nil
}

// hotswapFail counts the failure and returns the error annotated with the
// segment it concerns. The cached bundle is deliberately left alone: the
// card is still replaying the pre-hotswap program, and the cached digest
// still describes it.
func (d *Driver) hotswapFail(segmentName string, err error) error {
	d.m.HotswapFailures.Inc(d.cardLabels())
	d.logger.WithError(err).Errorf("hotswap of segment %q failed, resident program unchanged", segmentName)
	if de, ok := err.(*errors.DriverError); ok && de.Segment == "" {
		de.SetSegment(segmentName)
	}
	return err
}
