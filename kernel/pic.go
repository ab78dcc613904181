package kernel

import (
	"fmt"

	"github.com/joeycumines/go-kcore/cpu"
)

const (
	// PIC1Offset is the interrupt vector of the primary PIC's first line.
	PIC1Offset = 32

	// PIC2Offset is the interrupt vector of the secondary PIC's first line.
	PIC2Offset = PIC1Offset + 8
)

// Vector returns the interrupt vector that line is remapped to.
func Vector(line cpu.Line) uint8 {
	return PIC1Offset + uint8(line)
}

// chainedPICs models the pair of 8259 interrupt controllers, which must be
// told when a handler has finished with a vector before they deliver another
// request on that line.
type chainedPICs struct {
	offsets [2]uint8
	eoi     [16]uint64
}

func newChainedPICs(offset1, offset2 uint8) chainedPICs {
	return chainedPICs{offsets: [2]uint8{offset1, offset2}}
}

func (p *chainedPICs) handles(vector uint8) bool {
	for _, offset := range p.offsets {
		if vector >= offset && vector < offset+8 {
			return true
		}
	}
	return false
}

// endOfInterrupt acknowledges vector. Vectors on the secondary controller
// acknowledge both.
func (p *chainedPICs) endOfInterrupt(vector uint8) {
	if !p.handles(vector) {
		panic(fmt.Sprintf(`kernel: vector %d is not handled by the PICs`, vector))
	}
	if vector >= p.offsets[1] && vector < p.offsets[1]+8 {
		p.eoi[8+vector-p.offsets[1]]++
		return
	}
	p.eoi[vector-p.offsets[0]]++
}
