// Package msd implements the command-submission and scheduling core of an
// Intel-generation graphics system driver: per-context ring buffers, the
// execution-list submission protocol, sequence-number completion tracking,
// and hang detection and recovery, for render and video engines on Gen9 and
// Gen12 hardware.
//
// All hardware-affecting work is serialized onto a single device thread via
// MsdIntelDevice's request queue; client-facing entry points only ever
// enqueue. Register access, buffers, semaphores, interrupts, and GPU address
// spaces are consumed as capabilities from the hwio and platform packages.
package msd
