// Package tests holds fixture programs shared by the tests of other
// packages.
package tests

import (
	"github.com/ozanh/branchvm"
	"github.com/ozanh/branchvm/asm"
)

// SwitchFixture is a program with one method per switch kind. Both methods
// map their argument 0,1,2 to 10,20,30 and anything else to 99. "sparse"
// uses the keys 1,5,9 instead.
const SwitchFixture = `
; int dense(int x) { switch (x) { case 0: return 10; case 1: return 20; case 2: return 30; } return 99; }
.method dense locals=1
        iload_0
        tableswitch 0 default=other zero one two
zero:   bipush 10
        ireturn
one:    bipush 20
        ireturn
two:    bipush 30
        ireturn
other:  bipush 99
        ireturn

.method sparse locals=1
        iload_0
        lookupswitch default=other 1:one 5:five 9:nine
one:    bipush 10
        ireturn
five:   bipush 20
        ireturn
nine:   bipush 30
        ireturn
other:  bipush 99
        ireturn

; sums dense(i) for i in [-1, 3]
.method loop locals=2
        iconst_m1
        istore_0
        iconst_0
        istore_1
next:   iload_0
        iconst_3
        if_icmpgt done
        iload_0
        tableswitch 0 default=d99 c10 c20 c30
c10:    bipush 10
        goto add
c20:    bipush 20
        goto add
c30:    bipush 30
        goto add
d99:    bipush 99
add:    iload_1
        iadd
        istore_1
        iload_0
        iconst_1
        iadd
        istore_0
        goto next
done:   iload_1
        ireturn
`

// MustParse parses src and panics on error.
func MustParse(src string) *branchvm.Program {
	p, err := asm.Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

// MustMethod returns the named method of p and panics if it does not exist.
func MustMethod(p *branchvm.Program, name string) *branchvm.Method {
	m, err := p.Method(name)
	if err != nil {
		panic(err)
	}
	return m
}

// LinearResolve resolves selector by scanning all cases of d in order.
func LinearResolve(d *branchvm.SwitchDescriptor, selector int32) int {
	for _, c := range d.Cases() {
		if c.Key == selector {
			return d.IP() + int(c.Offset)
		}
	}
	return d.IP() + int(d.Default())
}

// Code returns d.IP() NOP bytes followed by the encoded descriptor.
func Code(d *branchvm.SwitchDescriptor) []byte {
	code, err := d.AppendTo(make([]byte, d.IP()))
	if err != nil {
		panic(err)
	}
	return code
}
