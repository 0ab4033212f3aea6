package decoded

import (
	"fmt"
	"strconv"
	"strings"

	"invoicekit/ir/raw"
)

// InflateObjectStreams parses every /ObjStm in doc and promotes the
// compressed objects into the raw object map. Files written by modern
// producers keep the page tree inside object streams, so the linear
// scan alone does not see it.
func InflateObjectStreams(doc *Document) error {
	var objStms []raw.ObjectRef
	for ref, obj := range doc.Raw.Objects {
		if stream, ok := obj.(raw.Stream); ok && isType(stream.Dictionary(), "ObjStm") {
			objStms = append(objStms, ref)
		}
	}
	for _, ref := range objStms {
		stream := doc.Raw.Objects[ref].(raw.Stream)
		data, ok := doc.StreamData(ref)
		if !ok {
			if err := doc.StreamError(ref); err != nil {
				return fmt.Errorf("decoded: object stream %s: %w", ref, err)
			}
			continue
		}
		if err := inflateOne(doc.Raw, stream.Dictionary(), data); err != nil {
			return fmt.Errorf("decoded: object stream %s: %w", ref, err)
		}
	}
	return nil
}

func inflateOne(dst *raw.Document, dict raw.Dictionary, data []byte) error {
	n, ok := intEntry(dst, dict, "N")
	if !ok {
		return fmt.Errorf("missing N entry")
	}
	first, ok := intEntry(dst, dict, "First")
	if !ok {
		return fmt.Errorf("missing First entry")
	}
	if first > len(data) {
		return fmt.Errorf("First offset past payload end")
	}

	// The header is N pairs of "objnum offset" relative to First.
	fields := strings.Fields(string(data[:first]))
	if len(fields) < 2*n {
		return fmt.Errorf("short header: %d fields for %d objects", len(fields), n)
	}
	for i := 0; i < n; i++ {
		num, err := strconv.Atoi(fields[2*i])
		if err != nil {
			return fmt.Errorf("object number: %w", err)
		}
		off, err := strconv.Atoi(fields[2*i+1])
		if err != nil {
			return fmt.Errorf("object offset: %w", err)
		}
		start := first + off
		if start > len(data) {
			return fmt.Errorf("object %d offset past payload end", num)
		}
		end := len(data)
		if i+1 < n {
			if next, err := strconv.Atoi(fields[2*i+3]); err == nil && first+next <= len(data) && first+next >= start {
				end = first + next
			}
		}
		obj, err := raw.ParseObjectBytes(data[start:end])
		if err != nil {
			return fmt.Errorf("object %d: %w", num, err)
		}
		objRef := raw.ObjectRef{Num: num, Gen: 0}
		// Top-level definitions from incremental updates win over the
		// compressed copy.
		if _, exists := dst.Objects[objRef]; !exists {
			dst.Objects[objRef] = obj
		}
	}
	return nil
}

func isType(dict raw.Dictionary, want string) bool {
	if dict == nil {
		return false
	}
	obj, ok := dict.Get(raw.NameLiteral("Type"))
	if !ok {
		return false
	}
	name, ok := obj.(raw.Name)
	return ok && name.Value() == want
}

func intEntry(doc *raw.Document, dict raw.Dictionary, key string) (int, bool) {
	obj, ok := dict.Get(raw.NameLiteral(key))
	if !ok {
		return 0, false
	}
	if n, ok := doc.Resolve(obj).(raw.Number); ok {
		return int(n.Int()), true
	}
	return 0, false
}
