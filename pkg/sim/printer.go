package sim

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Printer tracks the print lifecycle and mirrors it into the object model.
type Printer struct {
	Model *ObjectModel

	lock    sync.Mutex
	current *msgs.PrintStarted
	stopped wire.PrintStoppedReason
}

// Started implements dispatch.PrintTracker.
func (p *Printer) Started(info *msgs.PrintStarted) {
	p.lock.Lock()
	c := *info
	p.current = &c
	p.lock.Unlock()
	glog.Infof("print started: %s", info.Filename)
	if p.Model != nil {
		p.Model.Set(0, "job.file", map[string]interface{}{
			"fileName":    info.Filename,
			"generatedBy": info.GeneratedBy,
			"size":        info.FileSize,
			"height":      info.ObjectHeight,
			"layerHeight": info.LayerHeight,
			"printTime":   info.PrintTime,
		})
		p.Model.Set(0, "state.status", "processing")
	}
}

// Stopped implements dispatch.PrintTracker.
func (p *Printer) Stopped(reason wire.PrintStoppedReason) {
	p.lock.Lock()
	p.current, p.stopped = nil, reason
	p.lock.Unlock()
	glog.Infof("print stopped: %v", reason)
	if p.Model != nil {
		p.Model.Set(0, "job.file", nil)
		p.Model.Set(0, "job.lastStopReason", int(reason))
		p.Model.Set(0, "state.status", "idle")
	}
}

// Current returns the file being printed, nil if none.
func (p *Printer) Current() *msgs.PrintStarted {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current
}
