package msd

// Everything that mutates engine or context state funnels through the
// device thread as a deviceRequest. Client threads enqueue and return;
// requests that need an answer carry a reply channel.

type deviceRequest interface {
	name() string
	process(device *MsdIntelDevice)
}

// interruptRequest carries the per-engine identity bits read (and cleared)
// by the interrupt callback. It jumps the queue: interrupt servicing takes
// priority over client submissions.
type interruptRequest struct {
	renderStatus uint32
	videoStatus  uint32
}

func (r *interruptRequest) name() string { return "interrupt" }

func (r *interruptRequest) process(device *MsdIntelDevice) {
	device.processEngineInterrupts(device.render.EngineCommandStreamer, r.renderStatus)
	device.processEngineInterrupts(device.video.EngineCommandStreamer, r.videoStatus)
}

// batchRequest moves a presubmit-released batch onto its context's target
// engine.
type batchRequest struct {
	batch MappedBatch
}

func (r *batchRequest) name() string { return "batch" }

func (r *batchRequest) process(device *MsdIntelDevice) {
	device.submitBatchLocked(r.batch)
}

// destroyContextRequest tears down a context's per-engine state on the
// device thread and reports back when done.
type destroyContextRequest struct {
	context *MsdIntelContext
	done    chan struct{}
}

func (r *destroyContextRequest) name() string { return "destroy-context" }

func (r *destroyContextRequest) process(device *MsdIntelDevice) {
	r.context.Shutdown()
	close(r.done)
}

// timestampRequest samples the render engine timestamp under forcewake.
type timestampRequest struct {
	reply chan uint64
}

func (r *timestampRequest) name() string { return "timestamp" }

func (r *timestampRequest) process(device *MsdIntelDevice) {
	r.reply <- device.readTimestamp()
}

// dumpRequest renders the device status dump on the device thread, where
// engine state may be read without races.
type dumpRequest struct {
	reply chan []byte
}

func (r *dumpRequest) name() string { return "dump" }

func (r *dumpRequest) process(device *MsdIntelDevice) {
	r.reply <- device.dumpStatusLocked()
}
