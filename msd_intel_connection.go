package msd

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"golang.org/x/exp/slog"
)

// Notification is delivered to the client on its notification callback.
type Notification struct {
	CompletedBufferIDs []uint64
	ContextKilled      bool
	KilledContextID    uint64
}

type NotificationCallback func(Notification)

// connectionDevice is the slice of the device the connection talks to.
type connectionDevice interface {
	batchSubmitter
	DestroyContext(context *MsdIntelContext) error
}

// MsdIntelConnection represents one client of the device. It owns the
// lookup-by-id table of that client's contexts; contexts refer back to it
// only through the connectionNotifier relation.
type MsdIntelConnection struct {
	logger   *slog.Logger
	clientID uint64
	device   connectionDevice

	// Per-process GPU address space.
	ppgtt *platform.AddressSpace

	mutex    sync.Mutex
	contexts *swiss.Map[uint64, *MsdIntelContext]
	callback NotificationCallback
}

func newMsdIntelConnection(logger *slog.Logger, clientID uint64, device connectionDevice, ppgtt *platform.AddressSpace) *MsdIntelConnection {
	return &MsdIntelConnection{
		logger:   logger,
		clientID: clientID,
		device:   device,
		ppgtt:    ppgtt,
		contexts: swiss.NewMap[uint64, *MsdIntelContext](8),
	}
}

func (c *MsdIntelConnection) ClientID() uint64 { return c.clientID }

func (c *MsdIntelConnection) AddressSpace() *platform.AddressSpace { return c.ppgtt }

// SetNotificationCallback installs the channel used for completed-buffer
// and context-killed events.
func (c *MsdIntelConnection) SetNotificationCallback(callback NotificationCallback) {
	c.mutex.Lock()
	c.callback = callback
	c.mutex.Unlock()
}

// CreateContext creates and registers a context under the given id.
func (c *MsdIntelConnection) CreateContext(contextID uint64) (*MsdIntelContext, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.contexts.Get(contextID); ok {
		return nil, errors.Newf("context id %d already exists", contextID)
	}

	context := NewMsdIntelContext(c.logger, contextID, c, c.device)
	c.contexts.Put(contextID, context)
	return context, nil
}

// Context looks up a context by id.
func (c *MsdIntelConnection) Context(contextID uint64) (*MsdIntelContext, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.contexts.Get(contextID)
}

// DestroyContext removes the context from this connection and posts its
// device-thread cleanup. The context object stays alive until any in-flight
// work for it drains.
func (c *MsdIntelConnection) DestroyContext(contextID uint64) error {
	c.mutex.Lock()
	context, ok := c.contexts.Get(contextID)
	if ok {
		c.contexts.Delete(contextID)
	}
	c.mutex.Unlock()

	if !ok {
		return errors.Newf("no context with id %d", contextID)
	}
	return c.device.DestroyContext(context)
}

// ExecuteCommandBuffer prepares the command buffer against this
// connection's address space and submits it on the context.
func (c *MsdIntelConnection) ExecuteCommandBuffer(cmdBuf *CommandBuffer, context *MsdIntelContext) error {
	c.logger.Debug("MsdIntelConnection::ExecuteCommandBuffer",
		slog.Uint64("buffer_id", cmdBuf.ID()), slog.Uint64("context_id", context.ID()))

	if context.Killed() {
		return errors.Wrapf(ErrContextKilled, "context %d", context.ID())
	}

	if err := cmdBuf.PrepareForExecution(context, c.ppgtt); err != nil {
		return errors.Wrap(err, "failed to prepare command buffer")
	}
	return context.SubmitCommandBuffer(cmdBuf)
}

// ReleaseMappings detaches GPU mappings that may still be referenced by
// queued work: a no-op batch is sent down the context's target streamer and
// the mappings are dropped when it completes. Without a bound streamer
// nothing can reference them and they release immediately.
//
// This can run on a client thread, which is why the presubmit queue it
// lands in is mutex protected.
func (c *MsdIntelConnection) ReleaseMappings(context *MsdIntelContext, mappings []*platform.GpuMapping) error {
	if _, bound := context.TargetCommandStreamer(); !bound || context.Killed() {
		for _, mapping := range mappings {
			_ = mapping.Release()
		}
		return nil
	}

	return context.SubmitBatch(newMappingReleaseBatch(context, mappings))
}

// NotifyCommandBufferCompleted implements connectionNotifier.
func (c *MsdIntelConnection) NotifyCommandBufferCompleted(bufferID uint64) {
	c.mutex.Lock()
	callback := c.callback
	c.mutex.Unlock()

	if callback != nil {
		callback(Notification{CompletedBufferIDs: []uint64{bufferID}})
	}
}

// NotifyContextKilled implements connectionNotifier.
func (c *MsdIntelConnection) NotifyContextKilled(contextID uint64) {
	c.mutex.Lock()
	callback := c.callback
	c.mutex.Unlock()

	if callback != nil {
		callback(Notification{ContextKilled: true, KilledContextID: contextID})
	}
}
