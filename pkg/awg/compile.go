package awg

import (
	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/log"
	"spectrum-awg-host/pkg/pipeline"
	"spectrum-awg-host/pkg/spcm"
)

// PlanPhaseCompileUpload installs a sequencer program on the card:
// resolve, quantize, compile against the card's exact full-scale value,
// upload every segment plus the step graph, then arm and start.
//
// The digest gate makes repeated calls with an unchanged program a no-op
// unless force is set. The gate is purely an optimization: the cached
// digest is only ever set by the upload that made it true, so a false
// skip cannot happen short of a digest collision.
func (d *Driver) PlanPhaseCompileUpload(program *intent.Program, force bool) error {
	d.logger.Info("received intent program:\n%s", intent.Format(program))

	newHash := program.Digest()
	if !force && d.cached != nil && d.cached.hash == newHash {
		d.logger.Info("intent program unchanged; skipping compile/upload")
		d.m.DigestSkips.Inc(d.cardLabels())
		return nil
	}

	d.m.CompilesTotal.Inc(d.cardLabels())
	done := d.m.CompileTime.Timer(d.cardLabels())
	defer done()

	// Steps 1-2 run against the requested rate and touch no hardware; a
	// failure here leaves the resident program (and its digest) valid.
	resolved, err := d.pipe.Resolve(program, d.cfg.SampleRateHz)
	if err != nil {
		return err
	}
	quantized, err := d.pipe.Quantize(resolved, d.cfg.SegmentQuantumS)
	if err != nil {
		return err
	}
	d.logger.Debug("quantization report:\n%s", pipeline.QuantizationReport(quantized))

	if d.cfg.Simulation {
		return d.simulateCompile(program, quantized, newHash)
	}

	card, err := d.connect()
	if err != nil {
		return err
	}

	// The card is touched from here on: any failure may leave partial
	// progress (playback stopped, segments half written), so everything
	// below rolls back the cached state on error.
	if err := card.StopDMA(); err != nil {
		return d.rollback(errors.HardwareControlError("stop playback", err))
	}
	if err := d.configureOnce(card); err != nil {
		return d.rollback(err)
	}

	maxValue, err := card.MaxSampleValue()
	if err != nil {
		return d.rollback(errors.HardwareControlError("read max sample value", err))
	}
	fullScale := maxValue - 1

	compiled, err := d.pipe.Compile(quantized, pipeline.CompileOptions{
		Setup:         d.physicalSetup,
		FullScaleMV:   float64(d.cfg.CardMaxMV),
		FullScaleCode: fullScale,
	})
	if err != nil {
		return d.rollback(err)
	}

	indexByName := quantized.SegmentIndexByName()
	session, err := uploadProgram(card, compiled, indexByName)
	if err != nil {
		return d.rollback(err)
	}
	if err := card.SetTimeout(0); err != nil {
		return d.rollback(errors.HardwareControlError("set timeout", err))
	}
	// The card's start semantics require a forced trigger to leave the
	// entry step before the first hardware trigger arrives.
	if err := card.Start(spcm.StartEnableTrigger, spcm.StartForceTrigger); err != nil {
		return d.rollback(errors.HardwareControlError("start", err))
	}

	// Success: promote the whole bundle in one assignment.
	d.cached = &compileState{
		hash:        newHash,
		program:     program,
		quantized:   quantized,
		compiled:    compiled,
		indexByName: indexByName,
		session:     session,
	}
	d.state = StateUploaded
	d.m.UploadsTotal.Inc(d.cardLabels())
	d.m.ResidentSegments.Set(d.cardLabels(), float64(session.NumSegments))
	d.logger.WithFields(log.Fields{
		"session":  session.ID.String(),
		"segments": session.NumSegments,
		"hash":     shortHash(newHash),
	}).Info("upload to AWG successful, card started")
	return nil
}

// simulateCompile runs the compile stage against the conservative
// full-scale code value and promotes the cached bundle without touching
// hardware. Digest behavior is identical to the real path from the
// caller's point of view.
func (d *Driver) simulateCompile(program *intent.Program, quantized *pipeline.Quantized, newHash string) error {
	compiled, err := d.pipe.Compile(quantized, pipeline.CompileOptions{
		Setup:         d.physicalSetup,
		FullScaleMV:   float64(d.cfg.CardMaxMV),
		FullScaleCode: SimFullScaleCode,
	})
	if err != nil {
		return err
	}
	d.cached = &compileState{
		hash:        newHash,
		program:     program,
		quantized:   quantized,
		compiled:    compiled,
		indexByName: quantized.SegmentIndexByName(),
	}
	d.logger.Info("simulation compile complete, hash %s", shortHash(newHash))
	return nil
}

// rollback clears everything the failed full path may have invalidated:
// the cached bundle, the uploaded-state belief and the configured flag,
// so the next call reconnects cheaply but reconfigures and recompiles
// from scratch. DMA is stopped best-effort; its failure never masks the
// original error.
func (d *Driver) rollback(err error) error {
	d.cached = nil
	if d.state > StateConnected {
		d.state = StateConnected
	}
	d.m.CardConfigured.Set(d.cardLabels(), 0)
	d.m.ResidentSegments.Set(d.cardLabels(), 0)
	d.m.Rollbacks.Inc(d.cardLabels())
	if d.card != nil {
		if stopErr := d.card.StopDMA(); stopErr != nil {
			d.logger.Warn("stop DMA during rollback: %v", stopErr)
		}
	}
	d.logger.WithError(err).Error("compile/upload failed, cached state cleared")
	return err
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
