package vm

import (
	"ruavm/internal/errors"
	"ruavm/internal/value"
)

// Call invokes the function sitting at stack slot -(nargs+1), with its
// nargs arguments directly above it, and replaces all of that with its
// results. nresults == -1 means "keep every result"; otherwise results
// are padded with Nil or truncated to exactly nresults values, matching
// §4.D's call convention. Dispatches to either a script closure (the
// bytecode interpreter loop) or a host GoFunction, mirroring
// original_source/src/state/lua_state.rs's call/call_lua_closure; a
// nested CALL recurses back into Call on Go's own call stack.
func (s *State) Call(nargs, nresults int) error {
	f := s.frame()
	callee := f.Get(-(nargs + 1))
	if callee.Tag != value.TagFunction || callee.AsClosure() == nil {
		return s.locate(errors.New(errors.TypeError, "attempt to call a %s value", typeNameOf(callee)))
	}
	cl := callee.AsClosure()
	if cl.IsHost() {
		return s.callGoFunction(nargs, nresults, cl)
	}
	return s.callScriptClosure(nargs, nresults, cl)
}

func (s *State) callGoFunction(nargs, nresults int, cl *value.Closure) error {
	caller := s.frame()
	args := caller.PopN(nargs)
	caller.Pop() // pop the callee itself

	newFrame := NewFrame(nil, minStack+len(args))
	for _, a := range args {
		newFrame.Push(a)
	}
	s.pushFrame(newFrame)
	fn, _ := cl.Host.(GoFunction)
	n := fn(s)
	s.popFrame()

	results := newFrame.PopN(n)
	caller.PushN(results, nresults)
	return nil
}

// callScriptClosure implements call_lua_closure: build a fresh register
// window sized to the prototype's MaxStackSize (plus minStack slack),
// distribute positional parameters and overflow varargs, run the
// dispatch loop to completion, then transfer results back.
func (s *State) callScriptClosure(nargs, nresults int, cl *value.Closure) error {
	caller := s.frame()
	proto := cl.Proto
	nregs := int(proto.MaxStackSize)
	nparams := int(proto.NumParams)

	args := caller.PopN(nargs)
	caller.Pop() // pop the callee itself

	newFrame := NewFrame(cl, nregs+minStack)
	if nargs > nparams {
		extra := args[nparams:]
		args = args[:nparams]
		if proto.IsVararg {
			newFrame.varargs = append(newFrame.varargs, extra...)
		}
	}
	newFrame.PushN(args, nparams)
	if err := newFrame.SetTop(nregs); err != nil {
		return err
	}

	s.pushFrame(newFrame)
	err := s.runClosure()
	ran := s.popFrame()
	if err != nil {
		return err
	}

	if nresults != 0 {
		nrets := ran.Top() - nregs
		if nrets < 0 {
			nrets = 0
		}
		results := ran.PopN(nrets)
		caller.PushN(results, nresults)
	}
	return nil
}

// runClosure drives the fetch-decode-execute loop for the topmost
// frame until a RETURN-family opcode completes it. Grounded on
// original_source/src/state/lua_state.rs's run_lua_closure, extended to
// stop on RETURN0/RETURN1 too (the Rust reference only breaks on the
// literal multi-value OP_RETURN).
func (s *State) runClosure() error {
	for {
		instr := s.frame().Fetch()
		done, err := s.step(instr)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
