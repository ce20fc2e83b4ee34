package scan

import (
	_ "embed"

	"github.com/23skdu/longbow-scan/internal/device"
)

//go:embed scan.wgsl
var programSource string

const (
	localScanEntry = "local_scan"
	fixupScanEntry = "fixup_scan"
	blockSizeConst = "BLK_SIZE"
)

func init() {
	device.RegisterKernel(localScanEntry, device.KernelSpec{
		Func:   localScan,
		Args:   []device.ArgKind{device.ArgBuffer, device.ArgBuffer, device.ArgOptionalBuffer, device.ArgUint},
		Locals: []string{"temp"},
	})
	device.RegisterKernel(fixupScanEntry, device.KernelSpec{
		Func:   fixupScan,
		Args:   []device.ArgKind{device.ArgBuffer, device.ArgBuffer, device.ArgUint},
		Locals: []string{"carry"},
	})
}

// localScan is the Hillis-Steele inclusive scan of one block.
// args: src, dst, sums (optional, one slot per block), size.
func localScan(wi *device.WorkItem, args []any) {
	src := args[0].(*device.Buffer).Data()
	dst := args[1].(*device.Buffer).Data()
	var sums []uint32
	if b, _ := args[2].(*device.Buffer); b != nil {
		sums = b.Data()
	}
	size := int(args[3].(uint32))

	blk := int(wi.Const(blockSizeConst))
	temp := wi.Local("temp") // [2][blk]
	lt, gt := wi.LocalID, wi.GlobalID

	po, pi := 0, 1
	if gt < size {
		temp[po*blk+lt] = src[gt]
	} else {
		temp[po*blk+lt] = 0
	}
	wi.Barrier()

	for offset := 1; offset < blk; offset *= 2 {
		po, pi = pi, po
		if lt >= offset {
			temp[po*blk+lt] = temp[pi*blk+lt] + temp[pi*blk+lt-offset]
		} else {
			temp[po*blk+lt] = temp[pi*blk+lt]
		}
		wi.Barrier()
	}

	if gt < size {
		dst[gt] = temp[po*blk+lt]
	}
	if lt == 0 && sums != nil {
		sums[wi.GroupID] = temp[po*blk+blk-1]
	}
}

// fixupScan adds the carry of block g to every element of block g+1.
// args: dst, sums, size.
func fixupScan(wi *device.WorkItem, args []any) {
	dst := args[0].(*device.Buffer).Data()
	sums := args[1].(*device.Buffer).Data()
	size := int(args[2].(uint32))

	blk := int(wi.Const(blockSizeConst))
	carry := wi.Local("carry")
	if wi.LocalID == 0 {
		carry[0] = sums[wi.GroupID]
	}
	wi.Barrier()

	if index := blk + wi.GlobalID; index < size {
		dst[index] += carry[0]
	}
}
