// Package studio records multi-party calls. It composites every live
// camera and screen share into one canvas, mixes the microphones, and
// encodes the result into a WebM file, either streamed to a chosen file
// or buffered in memory and downloaded when the recording stops.
//
// Key pieces include:
//   - SourceRegistry and Room: the live sources of a call (LiveKit or in-memory)
//   - ComputeLayout: grid and screen share layouts, recomputed every frame
//   - Compositor and AudioMixer: the canvas and the mix graph
//   - RecordingPipeline and Sink: encode, mux and persist timeslice chunks
//   - Recorder: the Idle -> Preparing -> Active -> Finalizing lifecycle
//   - Call: recording, chat, media toggles and connection quality together
//
// # Architecture
//
//	Video: Room -> SourceRegistry -> Compositor (FrameScheduler) -> VideoEncoder
//	Audio: Room -> AudioMixer -> AudioEncoder
//	Output: WebMMuxer -> 1s chunks -> Sink (file | buffer -> Downloader)
//
// # Native Libraries
//
// VP8/VP9 and Opus load libmedia_vpx and libstream_opus at runtime with
// purego. Set STUDIO_LIB_PATH to the directory containing them. Without
// the libraries no codec is registered and Recorder.Start fails with
// ErrNoSupportedCodec.
//
// # Build Tags
//
// Optional tags disable features:
//   - novpx, noopus: disable specific codecs
package studio
