package msd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/vsrinivas/msd-intel-gen/hwio"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
	"golang.org/x/exp/slog"
)

const (
	defaultHangcheckTimeout = 2 * time.Second
	defaultPollingPeriod    = time.Second

	// Global GTT: driver-internal mappings (status pages, context images,
	// ring buffers, bootstrap batches).
	gttBase uint64 = 0x10000
	gttSize uint64 = 1 << 30

	// Per-process address spaces start above the GTT aperture.
	ppgttBase uint64 = 1 << 32
	ppgttSize uint64 = 1 << 35
)

// DeviceCreateOptions configures MsdIntelDevice creation. Zero values get
// defaults; Mmio and DeviceID are required.
type DeviceCreateOptions struct {
	Logger   *slog.Logger
	Mmio     hwio.Mmio
	DeviceID uint32

	// An engine making no progress for this long is declared hung.
	HangcheckTimeout time.Duration
	// Upper bound on how long the device thread sleeps between wakeups.
	PollingPeriod time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// MsdIntelDevice owns the hardware and the single device thread. All
// engine and context mutation happens on that thread; client threads only
// enqueue requests.
type MsdIntelDevice struct {
	logger   *slog.Logger
	deviceID uint32
	gen      registers.Gen

	registerIo *hwio.RegisterIo
	interrupts *platform.InterruptManager
	forcewake  hwio.ForcewakeDomain

	gtt         *platform.AddressSpace
	sequencer   *Sequencer
	statusPages map[EngineID]*HardwareStatusPage

	render *RenderCommandStreamer
	video  *VideoCommandStreamer

	// Driver-owned context carrying the bootstrap batches.
	internalContext *MsdIntelContext

	hangcheckTimeout time.Duration
	pollingPeriod    time.Duration
	clock            func() time.Time

	// Interrupt requests go on the front queue and preempt everything
	// already waiting on the main queue.
	requestMutex sync.Mutex
	frontQueue   *queue.Queue
	mainQueue    *queue.Queue
	requestSem   *platform.Semaphore

	shutdown   atomic.Bool
	threadDone chan struct{}
}

// NewMsdIntelDevice creates the device and starts its thread. The engines
// come up initialized with the render bootstrap batches submitted.
func NewMsdIntelDevice(options DeviceCreateOptions) (*MsdIntelDevice, error) {
	if options.Mmio == nil {
		return nil, errors.New("mmio is required")
	}
	gen, ok := deviceGen(options.DeviceID)
	if !ok {
		return nil, errors.Newf("unsupported device id 0x%x", options.DeviceID)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	hangcheckTimeout := options.HangcheckTimeout
	if hangcheckTimeout == 0 {
		hangcheckTimeout = defaultHangcheckTimeout
	}
	pollingPeriod := options.PollingPeriod
	if pollingPeriod == 0 {
		pollingPeriod = defaultPollingPeriod
	}

	forcewake := hwio.ForcewakeGen9Render
	if gen == registers.Gen12 {
		forcewake = hwio.ForcewakeGen12Gt
	}

	d := &MsdIntelDevice{
		logger:           logger,
		deviceID:         options.DeviceID,
		gen:              gen,
		registerIo:       hwio.NewRegisterIo(options.Mmio),
		interrupts:       platform.NewInterruptManager(),
		forcewake:        forcewake,
		gtt:              platform.NewAddressSpace("gtt", gttBase, gttSize),
		sequencer:        NewSequencer(),
		statusPages:      map[EngineID]*HardwareStatusPage{},
		hangcheckTimeout: hangcheckTimeout,
		pollingPeriod:    pollingPeriod,
		clock:            clock,
		frontQueue:       queue.New(),
		mainQueue:        queue.New(),
		requestSem:       platform.NewSemaphore(),
		threadDone:       make(chan struct{}),
	}

	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		page, err := newHardwareStatusPage(id, gen, d.gtt)
		if err != nil {
			return nil, err
		}
		d.statusPages[id] = page
	}

	d.render = NewRenderCommandStreamer(d, gen)
	d.video = NewVideoCommandStreamer(d, gen)
	d.internalContext = NewMsdIntelContext(logger, 0, internalNotifier{logger}, d)

	if err := d.interrupts.RegisterCallback(d.interruptCallback,
		registers.EngineBit(engineIndex(RenderEngineID))|registers.EngineBit(engineIndex(VideoEngineID))); err != nil {
		return nil, err
	}

	if err := d.initHardware(); err != nil {
		return nil, err
	}

	go d.deviceThread()
	return d, nil
}

func (d *MsdIntelDevice) initHardware() error {
	if err := d.registerIo.ForcewakeRequest(d.forcewake); err != nil {
		return err
	}
	defer func() {
		if err := d.registerIo.ForcewakeRelease(d.forcewake); err != nil {
			d.logger.Warn("forcewake release failed", slog.Any("error", err))
		}
	}()

	d.render.InitHardware()
	d.video.InitHardware()

	registers.MasterInterruptControl{Gen: d.gen}.Enable(d.registerIo, true)

	return d.render.RenderInit(d.internalContext)
}

func (d *MsdIntelDevice) DeviceID() uint32   { return d.deviceID }
func (d *MsdIntelDevice) Gen() registers.Gen { return d.gen }

func (d *MsdIntelDevice) Interrupts() *platform.InterruptManager {
	return d.interrupts
}

// --- engineOwner, device thread only. ---

func (d *MsdIntelDevice) RegisterIo() *hwio.RegisterIo { return d.registerIo }
func (d *MsdIntelDevice) Sequencer() *Sequencer        { return d.sequencer }
func (d *MsdIntelDevice) GlobalGtt() *platform.AddressSpace {
	return d.gtt
}
func (d *MsdIntelDevice) Now() time.Time       { return d.clock() }
func (d *MsdIntelDevice) Logger() *slog.Logger { return d.logger }

func (d *MsdIntelDevice) HardwareStatusPage(id EngineID) *HardwareStatusPage {
	return d.statusPages[id]
}

func (d *MsdIntelDevice) engine(id EngineID) *EngineCommandStreamer {
	if id == VideoEngineID {
		return d.video.EngineCommandStreamer
	}
	return d.render.EngineCommandStreamer
}

// Open creates a connection for a client, with its own per-process GPU
// address space.
func (d *MsdIntelDevice) Open(clientID uint64) *MsdIntelConnection {
	d.logger.Debug("MsdIntelDevice::Open", slog.Uint64("client_id", clientID))
	ppgtt := platform.NewAddressSpace("ppgtt", ppgttBase, ppgttSize)
	return newMsdIntelConnection(d.logger, clientID, d, ppgtt)
}

// SubmitBatch implements batchSubmitter. Called from client threads when a
// context's presubmit queue releases a batch.
func (d *MsdIntelDevice) SubmitBatch(batch MappedBatch) error {
	if d.shutdown.Load() {
		return errors.New("device shut down")
	}
	d.enqueue(&batchRequest{batch: batch}, false)
	return nil
}

// DestroyContext implements the connection's device relation: per-engine
// context teardown must happen on the device thread.
func (d *MsdIntelDevice) DestroyContext(context *MsdIntelContext) error {
	if d.shutdown.Load() {
		return errors.New("device shut down")
	}
	request := &destroyContextRequest{context: context, done: make(chan struct{})}
	d.enqueue(request, false)
	select {
	case <-request.done:
		return nil
	case <-d.threadDone:
		// The device thread may have processed the request on its way out.
		select {
		case <-request.done:
			return nil
		default:
		}
		return errors.New("device shut down")
	}
}

// QueryTimestamp samples the render engine's timestamp counter.
func (d *MsdIntelDevice) QueryTimestamp() (uint64, error) {
	if d.shutdown.Load() {
		return 0, errors.New("device shut down")
	}
	request := &timestampRequest{reply: make(chan uint64, 1)}
	d.enqueue(request, false)
	select {
	case value := <-request.reply:
		return value, nil
	case <-d.threadDone:
		select {
		case value := <-request.reply:
			return value, nil
		default:
		}
		return 0, errors.New("device shut down")
	}
}

// DumpStatus renders a JSON snapshot of engine state for diagnostics.
func (d *MsdIntelDevice) DumpStatus() ([]byte, error) {
	if d.shutdown.Load() {
		return nil, errors.New("device shut down")
	}
	request := &dumpRequest{reply: make(chan []byte, 1)}
	d.enqueue(request, false)
	select {
	case dump := <-request.reply:
		return dump, nil
	case <-d.threadDone:
		select {
		case dump := <-request.reply:
			return dump, nil
		default:
		}
		return nil, errors.New("device shut down")
	}
}

// Shutdown stops the device thread and the interrupt dispatch. Contexts
// still alive are the clients' problem; the device only quiesces itself.
func (d *MsdIntelDevice) Shutdown() {
	if d.shutdown.Swap(true) {
		return
	}
	d.requestSem.Signal()
	<-d.threadDone
	d.interrupts.Close()
}

func (d *MsdIntelDevice) enqueue(request deviceRequest, front bool) {
	d.requestMutex.Lock()
	if front {
		d.frontQueue.Add(request)
	} else {
		d.mainQueue.Add(request)
	}
	d.requestMutex.Unlock()
	d.requestSem.Signal()
}

func (d *MsdIntelDevice) dequeue() (deviceRequest, bool) {
	d.requestMutex.Lock()
	defer d.requestMutex.Unlock()
	if d.frontQueue.Length() > 0 {
		return d.frontQueue.Remove().(deviceRequest), true
	}
	if d.mainQueue.Length() > 0 {
		return d.mainQueue.Remove().(deviceRequest), true
	}
	return nil, false
}

func (d *MsdIntelDevice) pendingRequests() bool {
	d.requestMutex.Lock()
	defer d.requestMutex.Unlock()
	return d.frontQueue.Length() > 0 || d.mainQueue.Length() > 0
}

// interruptCallback runs on the platform interrupt thread. It only reads
// and clears the identity registers, then hands off; all real servicing
// belongs to the device thread.
func (d *MsdIntelDevice) interruptCallback() {
	request := &interruptRequest{}

	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		identity := registers.InterruptIdentity{Gen: d.gen, EngineIndex: engineIndex(id)}
		status := identity.Read(d.registerIo)
		if status == 0 {
			continue
		}
		identity.Clear(d.registerIo, status)
		if id == RenderEngineID {
			request.renderStatus = status
		} else {
			request.videoStatus = status
		}
	}

	if request.renderStatus == 0 && request.videoStatus == 0 {
		return
	}
	d.enqueue(request, true)
}

// deviceThread is the single mutator of engine and context state. It waits
// on the request semaphore with a timeout derived from the earliest engine
// hang-check deadline, capped at the polling period.
func (d *MsdIntelDevice) deviceThread() {
	defer close(d.threadDone)
	d.logger.Debug("MsdIntelDevice::deviceThread started")

	for {
		d.requestSem.Wait(d.waitTimeout())
		if d.shutdown.Load() {
			return
		}
		if !d.pendingRequests() && !d.hangcheckDue() {
			continue
		}

		if err := d.registerIo.ForcewakeRequest(d.forcewake); err != nil {
			d.logger.Warn("forcewake request failed", slog.Any("error", err))
		}

		for {
			request, ok := d.dequeue()
			if !ok {
				break
			}
			d.logger.Debug("MsdIntelDevice::deviceThread processing request",
				slog.String("request", request.name()))
			request.process(d)
		}

		d.hangcheck()

		if err := d.registerIo.ForcewakeRelease(d.forcewake); err != nil {
			d.logger.Warn("forcewake release failed", slog.Any("error", err))
		}
	}
}

func (d *MsdIntelDevice) waitTimeout() time.Duration {
	now := d.clock()
	timeout := TimeoutNever
	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		t := d.engine(id).Progress().GetHangcheckTimeout(d.hangcheckTimeout, now)
		if t < timeout {
			timeout = t
		}
	}
	if timeout > d.pollingPeriod {
		timeout = d.pollingPeriod
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

func (d *MsdIntelDevice) hangcheckDue() bool {
	now := d.clock()
	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		if d.engine(id).Progress().GetHangcheckTimeout(d.hangcheckTimeout, now) <= 0 {
			return true
		}
	}
	return false
}

func (d *MsdIntelDevice) submitBatchLocked(batch MappedBatch) {
	context := batch.Context()
	if context.Killed() {
		d.logger.Warn("dropping batch for killed context",
			slog.Uint64("context_id", context.ID()))
		return
	}

	engineID := RenderEngineID
	if bound, ok := context.TargetCommandStreamer(); ok {
		engineID = bound
	}
	if cmdBuf, ok := batch.(*CommandBuffer); ok {
		engineID = cmdBuf.TargetEngine()
	}

	if err := d.engine(engineID).SubmitBatch(batch); err != nil {
		d.logger.Warn("batch submission failed",
			slog.Uint64("context_id", context.ID()), slog.Any("error", err))
	}
}

func (d *MsdIntelDevice) processEngineInterrupts(engine *EngineCommandStreamer, status uint32) {
	if status == 0 {
		return
	}
	if status&registers.InterruptUserBit != 0 {
		sequenceNumber := d.statusPages[engine.ID()].ReadSequenceNumber()
		engine.ProcessCompletedCommandBuffers(sequenceNumber)
	}
	if status&registers.InterruptContextSwitchBit != 0 {
		engine.ContextSwitched()
	}
}

// hangcheck runs after each wakeup. An expired deadline alone is not a
// hang: the completion interrupt may simply have been missed, in which
// case the status page shows progress and the completions are processed
// here instead.
func (d *MsdIntelDevice) hangcheck() {
	now := d.clock()
	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		engine := d.engine(id)
		if engine.Progress().GetHangcheckTimeout(d.hangcheckTimeout, now) > 0 {
			continue
		}

		sequenceNumber := d.statusPages[id].ReadSequenceNumber()
		if sequenceNumber != engine.Progress().LastCompletedSequenceNumber() {
			d.logger.Warn("progress without interrupt",
				slog.String("engine", id.String()),
				slog.Any("sequence_number", sequenceNumber))
			engine.ProcessCompletedCommandBuffers(sequenceNumber)
			continue
		}

		d.logger.Error("engine hang detected",
			slog.String("engine", id.String()),
			slog.Any("last_submitted", engine.Progress().LastSubmittedSequenceNumber()),
			slog.Any("last_completed", engine.Progress().LastCompletedSequenceNumber()))
		d.logFaultState(id)
		d.resetEngine(engine)
	}
}

func (d *MsdIntelDevice) logFaultState(id EngineID) {
	fault := registers.AllEngineFault{Gen: d.gen}
	decoded := registers.DecodeFault(fault.Read(d.registerIo))
	if !decoded.Valid {
		return
	}
	d.logger.Error("engine fault",
		slog.String("engine", id.String()),
		slog.Uint64("type", uint64(decoded.Type)),
		slog.Uint64("src", uint64(decoded.Src)),
		slog.Uint64("gpu_address", registers.FaultTlbReadData{}.ReadGpuAddress(d.registerIo)))
	fault.Clear(d.registerIo)
}

// resetEngine recovers a hung engine: hardware reset, discard of in-flight
// work (killing the stuck context), re-initialization, and render
// bootstrap replay. The caller holds forcewake.
func (d *MsdIntelDevice) resetEngine(engine *EngineCommandStreamer) {
	if err := engine.Reset(); err != nil {
		d.logger.Error("engine reset failed", slog.Any("error", err))
	}
	engine.ResetCurrentContext()
	engine.InitHardware()

	if engine.ID() == RenderEngineID {
		// The stuck context may have been the internal one.
		if d.internalContext.Killed() {
			d.internalContext = NewMsdIntelContext(d.logger, 0, internalNotifier{d.logger}, d)
		}
		if err := d.render.RenderInit(d.internalContext); err != nil {
			d.logger.Error("render bootstrap replay failed", slog.Any("error", err))
		}
	}

	engine.ScheduleContext()
}

func (d *MsdIntelDevice) readTimestamp() uint64 {
	return registers.Timestamp{MmioBase: registers.RenderEngineMmioBase}.Read(d.registerIo)
}

// internalNotifier stands in for a connection on the driver-owned context.
type internalNotifier struct {
	logger *slog.Logger
}

func (n internalNotifier) NotifyCommandBufferCompleted(bufferID uint64) {}

func (n internalNotifier) NotifyContextKilled(contextID uint64) {
	n.logger.Error("internal context killed; bootstrap work hung")
}
