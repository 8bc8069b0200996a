package breakpoint

import (
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// hitTarget is the part of a backend location or watchpoint pass counts
// are emulated on.
type hitTarget interface {
	SetEnabled(enabled bool)
	SetIgnoreCount(n uint32)
	HitCount() uint32
}

// passCounter emulates pass counts and hit count resets on top of a
// backend object that can only ignore the next N hits.
//
// PassCountEqual can't be expressed exactly: once the target hit is reached
// the backend object is disabled and stays disabled until the pass count or
// the hit count is changed again.
type passCounter struct {
	h    hitTarget
	kind string

	enabled             bool
	disabledByPassCount bool
	// baseHitCount is subtracted from the backend hit count. It is negative
	// if the hit count was set higher than the backend's.
	baseHitCount int64
	passCount    PassCount
}

func (p *passCounter) hitCount() uint32 {
	total := int64(p.h.HitCount())
	if total < p.baseHitCount {
		logflags.BreakpointsLogger().Warnf("Inconsistent %s hit count: base hit count %d is larger than the actual hit count %d", p.kind, p.baseHitCount, total)
		return 0
	}
	return uint32(total - p.baseHitCount)
}

func (p *passCounter) setEnabled(enabled bool) {
	p.enabled = enabled
	if !p.disabledByPassCount {
		p.h.SetEnabled(enabled)
	}
}

// setHitCount makes hitCount return n for the current backend hit count.
func (p *passCounter) setHitCount(n uint32) {
	p.baseHitCount = int64(p.h.HitCount()) - int64(n)
	p.setPassCount(p.passCount)
}

func (p *passCounter) setPassCount(pc PassCount) {
	p.passCount = pc
	p.h.SetEnabled(p.enabled)
	p.disabledByPassCount = false
	hits := p.hitCount()
	switch pc.Style {
	case PassCountNone:
		p.h.SetIgnoreCount(0)
	case PassCountEqualOrGreater:
		p.h.SetIgnoreCount(ignoreCount(int64(pc.Count) - int64(hits) - 1))
	case PassCountEqual:
		if pc.Count > hits {
			p.h.SetIgnoreCount(pc.Count - hits - 1)
		} else {
			p.disable()
		}
	case PassCountMod:
		if pc.Count == 0 {
			p.h.SetIgnoreCount(0)
			return
		}
		p.h.SetIgnoreCount(pc.Count - hits%pc.Count - 1)
	}
}

// onHit re-arms the backend object after it stopped the process.
func (p *passCounter) onHit() {
	switch p.passCount.Style {
	case PassCountEqual:
		if hits := p.hitCount(); hits != p.passCount.Count {
			logflags.BreakpointsLogger().Warnf("%s hit count %d differs from its pass count %d on hit", p.kind, hits, p.passCount.Count)
		}
		p.disable()
	case PassCountMod:
		if p.passCount.Count > 0 {
			p.h.SetIgnoreCount(p.passCount.Count - 1)
		}
	}
}

func (p *passCounter) disable() {
	p.disabledByPassCount = true
	p.h.SetEnabled(false)
}

func ignoreCount(n int64) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
