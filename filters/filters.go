// Package filters decodes PDF stream filters. FlateDecode,
// ASCIIHexDecode and ASCII85Decode cover the streams produced by the
// generators this tool is pointed at; unknown filters fail decoding so
// the caller can surface the page as unusable instead of silently
// mangling it.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	"invoicekit/ir/raw"
)

// Decoder decodes one named filter.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

// Pipeline applies a filter chain in order.
type Pipeline struct {
	decoders []Decoder
}

// NewPipeline constructs a pipeline with the provided decoders.
func NewPipeline(decoders ...Decoder) *Pipeline {
	return &Pipeline{decoders: decoders}
}

// Default returns a pipeline with all built-in decoders.
func Default() *Pipeline {
	return NewPipeline(NewFlateDecoder(), NewASCIIHexDecoder(), NewASCII85Decoder())
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode runs data through the named filters in order.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, errors.New("filters: unknown filter " + name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

// ExtractFilters reads the Filter and DecodeParms entries of a stream
// dictionary, normalizing single values to one-element slices.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	if dict == nil {
		return nil, nil
	}
	var names []string
	filterObj, _ := dict.Get(raw.NameLiteral("Filter"))
	switch v := filterObj.(type) {
	case raw.NameObj:
		names = []string{v.Value()}
	case *raw.ArrayObj:
		for _, item := range v.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Value())
			}
		}
	}
	var params []raw.Dictionary
	paramObj, _ := dict.Get(raw.NameLiteral("DecodeParms"))
	switch v := paramObj.(type) {
	case *raw.DictObj:
		params = []raw.Dictionary{v}
	case *raw.ArrayObj:
		for _, item := range v.Items {
			if d, ok := item.(*raw.DictObj); ok {
				params = append(params, d)
			} else {
				params = append(params, nil)
			}
		}
	}
	return names, params
}

type flateDecoder struct{}

// NewFlateDecoder returns a FlateDecode decoder with PNG predictor
// support.
func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	data, err := inflate(in)
	if err != nil {
		return nil, err
	}
	return applyPredictor(data, params)
}

// inflate handles both the standard zlib-wrapped payloads and the bare
// deflate payloads some producers emit.
func inflate(in []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(in)); err == nil {
		defer zr.Close()
		var out bytes.Buffer
		if _, err := io.Copy(&out, zr); err == nil {
			return out.Bytes(), nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(in))
	defer fr.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, fr); err != nil {
		return nil, errors.New("filters: flate decode failed: " + err.Error())
	}
	return out.Bytes(), nil
}

func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	if predictor == 2 {
		return nil, errors.New("filters: TIFF predictor not supported")
	}
	columns := intParam(params, "Columns", 1)
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8
	if rowLen <= 0 || len(data)%(rowLen+1) != 0 {
		return nil, errors.New("filters: predictor row size mismatch")
	}
	rows := len(data) / (rowLen + 1)
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	row := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*(rowLen+1)]
		copy(row, data[r*(rowLen+1)+1:(r+1)*(rowLen+1)])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bpp {
					left = int(row[i-bpp])
				}
				row[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				left, upLeft := 0, 0
				if i >= bpp {
					left = int(row[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				row[i] += paeth(left, int(prev[i]), upLeft)
			}
		default:
			return nil, errors.New("filters: unknown PNG filter type")
		}
		out = append(out, row...)
		copy(prev, row)
	}
	return out, nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return byte(a)
	}
	if pb <= pc {
		return byte(b)
	}
	return byte(c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func intParam(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	obj, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if n, ok := obj.(raw.Number); ok {
		return int(n.Int())
	}
	return def
}

type asciiHexDecoder struct{}

// NewASCIIHexDecoder returns an ASCIIHexDecode decoder.
func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			trimmed = append(trimmed, c)
		}
	}
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	result := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(result, trimmed)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

type ascii85Decoder struct{}

// NewASCII85Decoder returns an ASCII85Decode decoder.
func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*2)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
