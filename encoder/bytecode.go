package encoder

import (
	"bytes"
	"errors"
	"io"

	"github.com/ozanh/branchvm"
)

// EncodeProgramTo encodes given p to w io.Writer.
func EncodeProgramTo(p *branchvm.Program, w io.Writer) error {
	return (*Program)(p).Encode(w)
}

// DecodeProgramFrom decodes *branchvm.Program from given r io.Reader. If
// verify is true every method is checked with branchvm.Verify.
func DecodeProgramFrom(r io.Reader, verify bool) (*branchvm.Program, error) {
	var p Program
	if err := p.Decode(r); err != nil {
		return nil, err
	}
	if verify {
		for _, m := range p.Methods {
			if err := branchvm.Verify(m); err != nil {
				return nil, err
			}
		}
	}
	return (*branchvm.Program)(&p), nil
}

// Encode writes encoded data of Program to writer.
func (p *Program) Encode(w io.Writer) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	n, err := w.Write(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return errors.New("short write")
	}
	return nil
}

// Decode decodes Program data from the reader.
func (p *Program) Decode(r io.Reader) error {
	dst := bytes.NewBuffer(nil)
	if _, err := io.Copy(dst, r); err != nil {
		return err
	}
	return p.UnmarshalBinary(dst.Bytes())
}
