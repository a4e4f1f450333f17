package msd

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// dumpStatusLocked builds the diagnostic snapshot. Device thread only; the
// caller holds forcewake so hardware read-backs are safe.
func (d *MsdIntelDevice) dumpStatusLocked() []byte {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("device_id").Int(int(d.deviceID))
	obj.Name("gen").Int(int(d.gen))
	obj.Name("timestamp").Int(int(d.readTimestamp()))
	obj.Name("current_frequency_mhz").Int(int(
		registers.RenderPerformanceStatus{}.ReadCurrentMhz(d.registerIo)))
	obj.Name("requested_frequency_mhz").Int(int(
		registers.RenderPerformanceNormalFrequencyRequest{}.ReadMhz(d.registerIo)))

	fault := registers.DecodeFault(registers.AllEngineFault{Gen: d.gen}.Read(d.registerIo))
	faultObj := obj.Name("fault").Object()
	faultObj.Name("valid").Bool(fault.Valid)
	if fault.Valid {
		faultObj.Name("type").Int(int(fault.Type))
		faultObj.Name("src").Int(int(fault.Src))
		faultObj.Name("engine").Int(int(fault.Engine))
		faultObj.Name("gpu_address").Int(int(registers.FaultTlbReadData{}.ReadGpuAddress(d.registerIo)))
	}
	faultObj.End()

	engines := obj.Name("engines").Array()
	for _, id := range []EngineID{RenderEngineID, VideoEngineID} {
		d.dumpEngine(&engines, d.engine(id))
	}
	engines.End()

	obj.End()
	return writer.Bytes()
}

func (d *MsdIntelDevice) dumpEngine(array *jwriter.ArrayState, engine *EngineCommandStreamer) {
	obj := array.Object()
	defer obj.End()

	obj.Name("name").String(engine.ID().String())
	obj.Name("mmio_base").Int(int(engine.MmioBase()))
	obj.Name("last_submitted").Int(int(engine.Progress().LastSubmittedSequenceNumber()))
	obj.Name("last_completed").Int(int(engine.Progress().LastCompletedSequenceNumber()))
	obj.Name("status_page_sequence_number").Int(int(d.statusPages[engine.ID()].ReadSequenceNumber()))
	obj.Name("hardware_ring_head").Int(int(
		registers.RingbufferHead{MmioBase: engine.MmioBase()}.Read(d.registerIo)))
	obj.Name("context_switch_pending").Bool(engine.contextSwitchPending)

	inflight := obj.Name("inflight").Array()
	for i := 0; i < engine.inflight.Length(); i++ {
		seq := engine.inflight.Get(i).(*InflightCommandSequence)
		entry := inflight.Object()
		entry.Name("sequence_number").Int(int(seq.sequenceNumber))
		entry.Name("context_id").Int(int(seq.batch.Context().ID()))
		entry.Name("ringbuffer_offset").Int(int(seq.ringbufferOffset))
		entry.End()
	}
	inflight.End()
}
