// Package decoded layers filter decoding and object-stream inflation
// on top of the raw object model. Streams are decoded eagerly and in
// parallel; streams whose filter chain is unsupported (typically image
// codecs) are recorded and skipped rather than failing the document.
package decoded

import (
	"context"
	"runtime"
	"sync"

	"invoicekit/filters"
	"invoicekit/ir/raw"
)

// Document pairs the raw object graph with decoded stream payloads.
type Document struct {
	Raw     *raw.Document
	streams map[raw.ObjectRef][]byte
	errs    map[raw.ObjectRef]error
}

// StreamData returns the decoded payload of the stream object at ref.
func (d *Document) StreamData(ref raw.ObjectRef) ([]byte, bool) {
	data, ok := d.streams[ref]
	return data, ok
}

// StreamError returns the decode error for ref, if decoding failed.
func (d *Document) StreamError(ref raw.ObjectRef) error { return d.errs[ref] }

// Decoder converts a raw document into a decoded one.
type Decoder interface {
	Decode(ctx context.Context, src *raw.Document) (*Document, error)
}

// NewDecoder returns a decoder backed by the default filter pipeline.
func NewDecoder() Decoder {
	return &decoderImpl{pipeline: filters.Default()}
}

type decoderImpl struct {
	pipeline *filters.Pipeline
}

func (d *decoderImpl) Decode(ctx context.Context, src *raw.Document) (*Document, error) {
	doc := &Document{
		Raw:     src,
		streams: make(map[raw.ObjectRef][]byte),
		errs:    make(map[raw.ObjectRef]error),
	}

	type job struct {
		ref    raw.ObjectRef
		stream raw.Stream
	}
	var jobs []job
	for ref, obj := range src.Objects {
		if stream, ok := obj.(raw.Stream); ok {
			jobs = append(jobs, job{ref: ref, stream: stream})
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var ctxErr error
	for _, j := range jobs {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			data, err := d.decodeStream(ctx, src, j.stream)
			mu.Lock()
			if err != nil {
				doc.errs[j.ref] = err
			} else {
				doc.streams[j.ref] = data
			}
			mu.Unlock()
		}(j)
	}
	// In-flight workers finish before the maps go out of scope, even
	// when the context is cancelled mid-loop.
	wg.Wait()
	if ctxErr != nil {
		return nil, ctxErr
	}
	return doc, nil
}

func (d *decoderImpl) decodeStream(ctx context.Context, src *raw.Document, stream raw.Stream) ([]byte, error) {
	dict := stream.Dictionary()
	names, params := filters.ExtractFilters(dict)
	resolved := make([]raw.Dictionary, len(params))
	for i, p := range params {
		if p == nil {
			continue
		}
		if rd := src.ResolveDict(p); rd != nil {
			resolved[i] = rd
		}
	}
	return d.pipeline.Decode(ctx, stream.RawData(), names, resolved)
}
