package opt

import (
	"sort"

	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// interval is the live range of one virtual register.
type interval struct {
	vreg       int64
	start, end int
}

// allocate is pass 3: a linear scan over the virtual registers produced by
// expression lowering. Every allocated value takes a callee-save register;
// the volatile half of the System V partition stays reserved for the
// per-instruction scratch sequences and the argument registers, which a
// call clobbers anyway. Values that outlast the callee-save pool spill to
// frame slots (push/pop-free: spill slots are plain stores and loads below
// the declared frame).
func allocate(fn *ir.Func, extRegs bool) {
	if fn.NumVRegs == 0 {
		fn.Alloc = nil
		return
	}

	start := make([]int, fn.NumVRegs)
	end := make([]int, fn.NumVRegs)
	seen := make([]bool, fn.NumVRegs)
	for i := range start {
		start[i] = -1
	}
	note := func(o ir.Operand, idx int) {
		if o.Kind != ir.KVReg {
			return
		}
		v := o.Val
		if !seen[v] {
			seen[v] = true
			start[v] = idx
		}
		end[v] = idx
	}

	for i := range fn.Ins {
		ins := &fn.Ins[i]
		note(ins.Arg1, i)
		note(ins.Arg2, i)
		note(ins.Res, i)
	}

	var ivs []interval
	for v := 0; v < fn.NumVRegs; v++ {
		if !seen[v] {
			continue
		}
		ivs = append(ivs, interval{vreg: int64(v), start: start[v], end: end[v]})
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })

	calleeSave := []x64.Reg{x64.RBX}
	if extRegs {
		calleeSave = append(calleeSave, x64.R12, x64.R13, x64.R14, x64.R15)
	}

	fn.Alloc = make([]ir.RegLoc, fn.NumVRegs)
	inUse := map[x64.Reg]int64{} // reg -> vreg holding it
	active := []interval{}
	usedCS := map[x64.Reg]bool{}

	expire := func(at int) {
		live := active[:0]
		for _, a := range active {
			if a.end < at {
				loc := fn.Alloc[a.vreg]
				if loc.InReg {
					delete(inUse, loc.Reg)
				}
				continue
			}
			live = append(live, a)
		}
		active = live
	}

	take := func(pool []x64.Reg) (x64.Reg, bool) {
		for _, r := range pool {
			if _, busy := inUse[r]; !busy {
				return r, true
			}
		}
		return x64.RegNone, false
	}

	spillOff := fn.FrameSize
	for _, iv := range ivs {
		expire(iv.start)
		r, ok := take(calleeSave)
		if ok {
			fn.Alloc[iv.vreg] = ir.RegLoc{InReg: true, Reg: r}
			inUse[r] = iv.vreg
			active = append(active, iv)
			for _, cs := range calleeSave {
				if cs == r {
					usedCS[r] = true
				}
			}
			continue
		}
		// Spill: a frame slot below the declared variables.
		spillOff += 8
		fn.Alloc[iv.vreg] = ir.RegLoc{Spill: spillOff}
		fn.RegsSpilled = true
	}

	fn.SpillBytes = spillOff - fn.FrameSize
	fn.UsedCalleeSave = fn.UsedCalleeSave[:0]
	for _, r := range calleeSave {
		if usedCS[r] {
			fn.UsedCalleeSave = append(fn.UsedCalleeSave, r)
		}
	}
}
