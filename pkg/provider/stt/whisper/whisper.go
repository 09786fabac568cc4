// Package whisper provides whisper.cpp-backed recognizers.
//
// Two backends share the same streaming behaviour:
//
//   - [Native] links whisper.cpp through its CGO Go bindings and loads the
//     model in-process.
//   - [Client] talks to a running whisper-server over its REST API
//     (POST /inference, POST /load).
//
// whisper.cpp is a batch engine. Streaming is simulated with an
// [stt.Windowed]: once a step of new audio has arrived, the window from
// the last settled segment up to now is recognized again and every segment
// is re-emitted. Segments whose time range is unchanged between passes act
// as revisions downstream.
//
// Usage:
//
//	rec := whisper.NewNative(whisper.WithThreads(4))
//	err := rec.InitModel(ctx, stt.ModelSource{Path: "ggml-base.bin"}, "auto")
//	segs, cancel := rec.Subscribe(64)
//	err = rec.ProcessBatch(ctx, pcm, 0)
package whisper

import "errors"

var errModelBytesUnsupported = errors.New("model bytes are not supported by this backend")
