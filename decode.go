// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

// DecodeSwitch decodes the switch instruction whose opcode is at code[ip].
// Any error unwraps to ErrMalformedSwitch.
func DecodeSwitch(code []byte, ip int) (*SwitchDescriptor, error) {
	return ReadSwitch(NewReader(code, ip))
}

// ReadSwitch decodes the switch instruction at the reader's position and
// advances the reader past it. On error the reader position is undefined.
func ReadSwitch(r *Reader) (*SwitchDescriptor, error) {
	ip := r.Pos()
	op, err := r.ReadByte()
	if err != nil {
		return nil, switchErrorf(op, ip,
			"instruction pointer outside method of %d bytes", r.Size())
	}
	if !IsSwitch(op) {
		return nil, switchErrorf(op, ip, "opcode 0x%02X is not a switch", op)
	}
	if err := r.Skip(Padding(ip)); err != nil {
		return nil, switchErrorf(op, ip, "truncated padding")
	}
	def, err := r.ReadInt32()
	if err != nil {
		return nil, switchErrorf(op, ip, "truncated default offset")
	}
	if op == OpTableSwitch {
		return readDense(r, ip, def)
	}
	return readSparse(r, ip, def)
}

func readDense(r *Reader, ip int, def int32) (*SwitchDescriptor, error) {
	low, err := r.ReadInt32()
	if err != nil {
		return nil, switchErrorf(OpTableSwitch, ip, "truncated low bound")
	}
	high, err := r.ReadInt32()
	if err != nil {
		return nil, switchErrorf(OpTableSwitch, ip, "truncated high bound")
	}
	count := int64(high) - int64(low) + 1
	if count < 0 {
		return nil, switchErrorf(OpTableSwitch, ip,
			"invalid range low=%d high=%d", low, high)
	}
	// check against the stream before allocating
	if count > int64(r.Remaining()/4) {
		return nil, switchErrorf(OpTableSwitch, ip,
			"jump table of %d entries exceeds %d remaining bytes",
			count, r.Remaining())
	}
	d := &SwitchDescriptor{
		kind:    DenseSwitch,
		ip:      ip,
		def:     def,
		low:     low,
		high:    high,
		offsets: make([]int32, count),
	}
	for i := range d.offsets {
		// length was checked above
		d.offsets[i], _ = r.ReadInt32()
	}
	return d, nil
}

func readSparse(r *Reader, ip int, def int32) (*SwitchDescriptor, error) {
	npairs, err := r.ReadInt32()
	if err != nil {
		return nil, switchErrorf(OpLookupSwitch, ip, "truncated pair count")
	}
	if npairs < 0 {
		return nil, switchErrorf(OpLookupSwitch, ip, "negative pair count %d", npairs)
	}
	if int64(npairs) > int64(r.Remaining()/8) {
		return nil, switchErrorf(OpLookupSwitch, ip,
			"%d pairs exceed %d remaining bytes", npairs, r.Remaining())
	}
	d := &SwitchDescriptor{
		kind:    SparseSwitch,
		ip:      ip,
		def:     def,
		keys:    make([]int32, npairs),
		offsets: make([]int32, npairs),
	}
	for i := range d.keys {
		key, _ := r.ReadInt32()
		if i > 0 && key <= d.keys[i-1] {
			return nil, switchErrorf(OpLookupSwitch, ip,
				"key %d at pair %d is not greater than previous key %d",
				key, i, d.keys[i-1])
		}
		d.keys[i] = key
		d.offsets[i], _ = r.ReadInt32()
	}
	return d, nil
}
