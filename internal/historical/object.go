// Package historical records per-step motion history for client playback.
// Values are quantized to a fixed binary precision and packed as varint deltas.
package historical

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const packVersion = 1

// DefaultMaxSamples bounds each field's history; older samples fold into the initial value.
const DefaultMaxSamples = 256

// Field names a tracked value and its precision: values are stored as
// round(v * 2^Precision).
type Field struct {
	Name      string
	Precision uint8
}

// PlayerFields are the fields tracked for every player.
var PlayerFields = []Field{
	{Name: "x", Precision: 4},
	{Name: "y", Precision: 4},
	{Name: "dx", Precision: 2},
	{Name: "dy", Precision: 2},
	{Name: "speed", Precision: 4},
}

// Sample is one recorded value change.
type Sample struct {
	T     float64 // simulation ms
	Value float64
}

type fieldHistory struct {
	field   Field
	initial float64
	current float64
	samples []Sample
}

// Object is the history of one entity across a step. Create one at the start
// of a step, Update it every tick, Pack it at the end.
type Object struct {
	start      float64
	maxSamples int
	fields     []*fieldHistory
}

// New starts a history with the entity's values at now.
func New(fields []Field, values []float64, now float64) (*Object, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("historical: %d fields but %d values", len(fields), len(values))
	}
	o := &Object{start: now, maxSamples: DefaultMaxSamples}
	for i, f := range fields {
		o.fields = append(o.fields, &fieldHistory{field: f, initial: values[i], current: values[i]})
	}
	return o, nil
}

// Update records each value that changed since the last update.
func (o *Object) Update(now float64, values []float64) {
	for i, h := range o.fields {
		if i >= len(values) || values[i] == h.current {
			continue
		}
		h.current = values[i]
		h.samples = append(h.samples, Sample{T: now, Value: values[i]})
		if len(h.samples) > o.maxSamples {
			h.initial = h.samples[0].Value
			h.samples = h.samples[1:]
		}
	}
}

// NumSamples returns the total recorded samples across fields.
func (o *Object) NumSamples() int {
	n := 0
	for _, h := range o.fields {
		n += len(h.samples)
	}
	return n
}

// Idle reports whether nothing changed during the step.
func (o *Object) Idle() bool {
	return o.NumSamples() == 0
}

// Downsample returns a copy keeping at most maxPoints samples per field,
// evenly spaced and always including the final one.
func (o *Object) Downsample(maxPoints int) *Object {
	out := &Object{start: o.start, maxSamples: o.maxSamples}
	for _, h := range o.fields {
		c := &fieldHistory{field: h.field, initial: h.initial, current: h.current}
		c.samples = downsample(h.samples, maxPoints)
		if maxPoints <= 0 && len(h.samples) > 0 {
			// Nothing left to interpolate; start at the final value.
			c.initial = h.current
		}
		out.fields = append(out.fields, c)
	}
	return out
}

func downsample(samples []Sample, maxPoints int) []Sample {
	if maxPoints <= 0 {
		return nil
	}
	if len(samples) <= maxPoints {
		return append([]Sample(nil), samples...)
	}
	out := make([]Sample, 0, maxPoints)
	if maxPoints == 1 {
		return append(out, samples[len(samples)-1])
	}
	step := float64(len(samples)-1) / float64(maxPoints-1)
	for i := 0; i < maxPoints; i++ {
		out = append(out, samples[int(math.Round(float64(i)*step))])
	}
	return out
}

func quantize(v float64, precision uint8) int64 {
	return int64(math.Round(v * float64(uint64(1)<<precision)))
}

func dequantize(q int64, precision uint8) float64 {
	return float64(q) / float64(uint64(1)<<precision)
}

// Pack encodes the history:
//
//	version byte, start ms (varint), field count (uvarint)
//	per field: name length + name, precision byte, initial (varint),
//	sample count (uvarint), then per sample: Δt ms (uvarint), Δvalue (varint)
func (o *Object) Pack() []byte {
	buf := []byte{packVersion}
	start := int64(math.Round(o.start))
	buf = binary.AppendVarint(buf, start)
	buf = binary.AppendUvarint(buf, uint64(len(o.fields)))
	for _, h := range o.fields {
		buf = binary.AppendUvarint(buf, uint64(len(h.field.Name)))
		buf = append(buf, h.field.Name...)
		buf = append(buf, h.field.Precision)

		prevV := quantize(h.initial, h.field.Precision)
		buf = binary.AppendVarint(buf, prevV)
		buf = binary.AppendUvarint(buf, uint64(len(h.samples)))

		prevT := start
		for _, s := range h.samples {
			t := int64(math.Round(s.T))
			if t < prevT {
				t = prevT
			}
			v := quantize(s.Value, h.field.Precision)
			buf = binary.AppendUvarint(buf, uint64(t-prevT))
			buf = binary.AppendVarint(buf, v-prevV)
			prevT, prevV = t, v
		}
	}
	return buf
}

// Unpacked is a decoded history buffer.
type Unpacked struct {
	Start  float64
	Fields map[string]UnpackedField
}

// UnpackedField is one decoded field.
type UnpackedField struct {
	Initial float64
	Samples []Sample
}

var errTruncated = errors.New("historical: truncated buffer")

// Unpack decodes a buffer produced by Pack.
func Unpack(buf []byte) (*Unpacked, error) {
	if len(buf) == 0 || buf[0] != packVersion {
		return nil, fmt.Errorf("historical: unsupported version")
	}
	r := &reader{buf: buf[1:]}
	start := r.varint()
	count := r.uvarint()
	out := &Unpacked{Start: float64(start), Fields: make(map[string]UnpackedField)}
	for i := uint64(0); i < count && r.err == nil; i++ {
		name := r.bytes(int(r.uvarint()))
		precision := r.byte()
		v := r.varint()
		f := UnpackedField{Initial: dequantize(v, precision)}
		n := r.uvarint()
		t := start
		for j := uint64(0); j < n && r.err == nil; j++ {
			t += int64(r.uvarint())
			v += r.varint()
			f.Samples = append(f.Samples, Sample{T: float64(t), Value: dequantize(v, precision)})
		}
		out.Fields[string(name)] = f
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errTruncated
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = errTruncated
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) byte() uint8 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.err = errTruncated
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = errTruncated
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}
