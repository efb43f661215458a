package compiler

import (
	"omnivm/pkg/fault"
	"omnivm/pkg/isa"
)

// CodeGen walks an arena AST and emits OmniVM instructions.
//
// Function bodies and top-level statements are emitted into separate
// sections and linked as bodies first, then the top-level entry code.
// Every expression leaves exactly one value on the operand stack.
type CodeGen struct {
	arena *Arena
	syms  *SymbolTable

	funcs []isa.Instruction
	top   []isa.Instruction
	inTop bool

	strPool  []byte
	strIndex map[string]int

	globalFixups []fixup // immediates relative to the global area
	callFixups   []callFixup
	loopStack    []loopLabels
	fn           *funcState
	defined      map[string]bool
	maxData      int
}

// fixup addresses an instruction in one of the two sections.
type fixup struct {
	top bool
	idx int
}

type callFixup struct {
	fixup
	name string
	line int
}

type loopLabels struct {
	breaks    []int
	continues []int
}

type funcState struct {
	name string
	ret  *isa.Type
}

func newCodeGen(arena *Arena, syms *SymbolTable, opts Options) *CodeGen {
	return &CodeGen{
		arena:    arena,
		syms:     syms,
		maxData:  opts.maxData(),
		strIndex: make(map[string]int),
		defined:  make(map[string]bool),
		inTop:    true,
	}
}

func (cg *CodeGen) section() *[]isa.Instruction {
	if cg.inTop {
		return &cg.top
	}
	return &cg.funcs
}

// emit appends an instruction to the current section and returns its index.
func (cg *CodeGen) emit(op isa.Opcode, imm float64) int {
	sec := cg.section()
	*sec = append(*sec, isa.Instruction{Op: op, Imm: imm})
	return len(*sec) - 1
}

func (cg *CodeGen) emitStr(op isa.Opcode, imm float64, s string) int {
	idx := cg.emit(op, imm)
	(*cg.section())[idx].Str = s
	return idx
}

// here is the index the next instruction will get.
func (cg *CodeGen) here() int { return len(*cg.section()) }

// patch points the jump at idx to target.
func (cg *CodeGen) patch(idx, target int) {
	(*cg.section())[idx].Imm = float64(target)
}

func (cg *CodeGen) unsupported(n *Node, format string, args ...any) error {
	return fault.At(fault.UnsupportedConstruct, n.Line, format, args...)
}

// intern places s in the string pool with a trailing zero byte and returns
// its data-segment address. Identical literals share storage.
func (cg *CodeGen) intern(s string) int {
	if addr, ok := cg.strIndex[s]; ok {
		return addr
	}
	addr := len(cg.strPool)
	cg.strPool = append(cg.strPool, s...)
	cg.strPool = append(cg.strPool, 0)
	cg.strIndex[s] = addr
	return addr
}

// elemSize is the stride of pointer arithmetic on t. void* steps by bytes.
func elemSize(t *isa.Type) int {
	if size := t.Elem().Size(); size > 0 {
		return size
	}
	return 1
}

func loadOp(t *isa.Type) isa.Opcode {
	if t.Kind == isa.TypeChar {
		return isa.LOAD_BYTE
	}
	return isa.LOAD
}

func storeOp(t *isa.Type) isa.Opcode {
	if t.Kind == isa.TypeChar {
		return isa.STORE_BYTE
	}
	return isa.STORE
}

// convert truncates a double value headed for whole-number storage.
func (cg *CodeGen) convert(from, to *isa.Type) {
	if from != nil && from.Kind == isa.TypeDouble && to.Kind != isa.TypeDouble {
		cg.emit(isa.DOUBLE_TO_INT, 0)
	}
}

// decay turns an array type into a pointer to its first element.
func decay(t *isa.Type) *isa.Type {
	if t != nil && t.Kind == isa.TypeArray {
		return isa.PointerTo(t.Base)
	}
	return t
}

// pushSymAddr pushes the address of a variable.
func (cg *CodeGen) pushSymAddr(sym isa.Symbol) {
	if sym.Global {
		idx := cg.emit(isa.PUSH_IMM, float64(sym.Address))
		cg.globalFixups = append(cg.globalFixups, fixup{top: cg.inTop, idx: idx})
		return
	}
	cg.emit(isa.ADDR_OF, float64(sym.Address))
}

// genAddress pushes the address of an lvalue and returns the type stored there.
func (cg *CodeGen) genAddress(id NodeID) (*isa.Type, error) {
	n := cg.arena.Get(id)
	switch n.Kind {
	case NodeIdent:
		sym, builtin, err := cg.syms.Resolve(n.Text, n.Line)
		if err != nil {
			return nil, err
		}
		if builtin || sym.Function {
			return nil, cg.unsupported(n, "%q is a function, not a variable", n.Text)
		}
		cg.pushSymAddr(sym)
		return sym.Type, nil

	case NodeUnary:
		if n.Op != STAR {
			break
		}
		t, err := cg.genExpr(n.A)
		if err != nil {
			return nil, err
		}
		if !t.IsAddress() {
			return nil, cg.unsupported(n, "cannot dereference a value of type %s", t)
		}
		return t.Elem(), nil

	case NodeIndex:
		line := n.Line
		index := n.B
		t, err := cg.genExpr(n.A)
		if err != nil {
			return nil, err
		}
		if !t.IsAddress() {
			return nil, fault.At(fault.UnsupportedConstruct, line, "cannot index a value of type %s", t)
		}
		it, err := cg.genExpr(index)
		if err != nil {
			return nil, err
		}
		cg.convert(it, isa.Int())
		cg.emit(isa.PUSH_IMM, float64(elemSize(t)))
		cg.emit(isa.MUL, 0)
		cg.emit(isa.ADD, 0)
		return t.Elem(), nil
	}
	return nil, cg.unsupported(n, "expression is not assignable")
}

// genExpr emits code leaving the value of id on the stack and returns its type.
func (cg *CodeGen) genExpr(id NodeID) (*isa.Type, error) {
	n := cg.arena.Get(id)
	switch n.Kind {
	case NodeNumber:
		cg.emit(isa.PUSH_IMM, n.Num)
		return n.Type, nil

	case NodeString:
		cg.emitStr(isa.PUSH_STR, float64(cg.intern(n.Text)), n.Text)
		return isa.PointerTo(isa.Char()), nil

	case NodeIdent:
		sym, builtin, err := cg.syms.Resolve(n.Text, n.Line)
		if err != nil {
			return nil, err
		}
		if builtin || sym.Function {
			return nil, cg.unsupported(n, "function %q used as a value", n.Text)
		}
		cg.pushSymAddr(sym)
		if sym.Type.Kind == isa.TypeArray {
			return decay(sym.Type), nil
		}
		cg.emit(loadOp(sym.Type), 0)
		return sym.Type, nil

	case NodeBinary:
		op, line, b := n.Op, n.Line, n.B
		lt, err := cg.genExpr(n.A)
		if err != nil {
			return nil, err
		}
		rt, err := cg.genExpr(b)
		if err != nil {
			return nil, err
		}
		return cg.applyBinary(op, lt, rt, line)

	case NodeLogical:
		return cg.genLogical(id)

	case NodeUnary:
		return cg.genUnary(id)

	case NodePostfix:
		return cg.genIncDec(n.A, n.Op, false, true)

	case NodeAssign:
		return cg.genAssign(id, true)

	case NodeCall:
		return cg.genCall(id)

	case NodeIndex:
		t, err := cg.genAddress(id)
		if err != nil {
			return nil, err
		}
		if t.Kind == isa.TypeArray {
			return decay(t), nil
		}
		if t.Kind == isa.TypeChar {
			cg.emit(isa.LOAD_BYTE, 0)
		} else {
			cg.emit(isa.DEREF, 0)
		}
		return t, nil

	case NodeCast:
		target := n.Type
		t, err := cg.genExpr(n.A)
		if err != nil {
			return nil, err
		}
		switch {
		case target.Kind == isa.TypeDouble && t.Kind != isa.TypeDouble:
			cg.emit(isa.INT_TO_DOUBLE, 0)
		case target.Kind == isa.TypeChar:
			cg.convert(t, target)
			cg.emit(isa.PUSH_IMM, 0xff)
			cg.emit(isa.BIT_AND, 0)
		default:
			cg.convert(t, target)
		}
		return target, nil

	case NodeInitList:
		return nil, cg.unsupported(n, "initializer list outside a declaration")
	}
	return nil, cg.unsupported(n, "unexpected %s node in expression", n.Kind)
}

// applyBinary emits op for two operands already on the stack.
func (cg *CodeGen) applyBinary(op TokenType, lt, rt *isa.Type, line int) (*isa.Type, error) {
	arith := isa.Int()
	if lt.Kind == isa.TypeDouble || rt.Kind == isa.TypeDouble {
		arith = isa.Double()
	}
	integral := lt.IsInteger() && rt.IsInteger()

	switch op {
	case PLUS:
		switch {
		case lt.IsAddress() && rt.IsAddress():
			return nil, fault.At(fault.UnsupportedConstruct, line, "cannot add two pointers")
		case lt.IsAddress():
			cg.convert(rt, isa.Int())
			cg.emit(isa.PUSH_IMM, float64(elemSize(lt)))
			cg.emit(isa.MUL, 0)
			cg.emit(isa.ADD, 0)
			return decay(lt), nil
		case rt.IsAddress():
			cg.emit(isa.SWAP, 0)
			cg.convert(lt, isa.Int())
			cg.emit(isa.PUSH_IMM, float64(elemSize(rt)))
			cg.emit(isa.MUL, 0)
			cg.emit(isa.ADD, 0)
			return decay(rt), nil
		}
		cg.emit(isa.ADD, 0)
		return arith, nil

	case MINUS:
		switch {
		case lt.IsAddress() && rt.IsAddress():
			cg.emit(isa.SUB, 0)
			cg.emit(isa.PUSH_IMM, float64(elemSize(lt)))
			cg.emit(isa.DIV, 0)
			cg.emit(isa.DOUBLE_TO_INT, 0)
			return isa.Int(), nil
		case lt.IsAddress():
			cg.convert(rt, isa.Int())
			cg.emit(isa.PUSH_IMM, float64(elemSize(lt)))
			cg.emit(isa.MUL, 0)
			cg.emit(isa.SUB, 0)
			return decay(lt), nil
		case rt.IsAddress():
			return nil, fault.At(fault.UnsupportedConstruct, line, "cannot subtract a pointer from a number")
		}
		cg.emit(isa.SUB, 0)
		return arith, nil

	case STAR:
		cg.emit(isa.MUL, 0)
		return arith, nil
	case SLASH:
		cg.emit(isa.DIV, 0)
		if integral {
			cg.emit(isa.DOUBLE_TO_INT, 0)
		}
		return arith, nil
	case PERCENT:
		cg.emit(isa.MOD, 0)
		return arith, nil

	case AND:
		cg.emit(isa.BIT_AND, 0)
	case PIPE:
		cg.emit(isa.BIT_OR, 0)
	case CARET:
		cg.emit(isa.BIT_XOR, 0)
	case SHL_OP:
		cg.emit(isa.SHL, 0)
	case SHR_OP:
		cg.emit(isa.SHR, 0)

	case EQUALS:
		cg.emit(isa.EQ, 0)
	case NOT_EQ:
		cg.emit(isa.NEQ, 0)
	case LESS:
		cg.emit(isa.LT, 0)
	case GREATER:
		cg.emit(isa.GT, 0)
	case LESS_EQ:
		cg.emit(isa.LTE, 0)
	case GREATER_EQ:
		cg.emit(isa.GTE, 0)

	default:
		return nil, fault.At(fault.UnsupportedConstruct, line, "unsupported binary operator %s", op)
	}
	return isa.Int(), nil
}

// genLogical emits short-circuit && and ||, yielding 0 or 1.
func (cg *CodeGen) genLogical(id NodeID) (*isa.Type, error) {
	n := *cg.arena.Get(id)
	jump := isa.JMP_IF_NOT // && stops at the first false operand
	short, full := 0.0, 1.0
	if n.Op == OR_LOGICAL {
		jump = isa.JMP_IF
		short, full = 1, 0
	}

	var exits []int
	for _, operand := range []NodeID{n.A, n.B} {
		if _, err := cg.genExpr(operand); err != nil {
			return nil, err
		}
		exits = append(exits, cg.emit(jump, 0))
	}
	cg.emit(isa.PUSH_IMM, full)
	end := cg.emit(isa.JMP, 0)
	for _, idx := range exits {
		cg.patch(idx, cg.here())
	}
	cg.emit(isa.PUSH_IMM, short)
	cg.patch(end, cg.here())
	return isa.Int(), nil
}

func (cg *CodeGen) genUnary(id NodeID) (*isa.Type, error) {
	n := *cg.arena.Get(id)
	switch n.Op {
	case PLUS_PLUS, MINUS_MINUS:
		return cg.genIncDec(n.A, n.Op, true, true)

	case AND:
		t, err := cg.genAddress(n.A)
		if err != nil {
			return nil, err
		}
		return isa.PointerTo(t), nil

	case STAR:
		t, err := cg.genAddress(id)
		if err != nil {
			return nil, err
		}
		if t.Kind == isa.TypeArray {
			return decay(t), nil
		}
		if t.Kind == isa.TypeChar {
			cg.emit(isa.LOAD_BYTE, 0)
		} else {
			cg.emit(isa.DEREF, 0)
		}
		return t, nil
	}

	t, err := cg.genExpr(n.A)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case MINUS:
		cg.emit(isa.NEG, 0)
		if t.Kind == isa.TypeChar {
			return isa.Int(), nil
		}
		return t, nil
	case NOT:
		cg.emit(isa.LOGICAL_NOT, 0)
		return isa.Int(), nil
	case TILDE:
		cg.emit(isa.BIT_NOT, 0)
		return isa.Int(), nil
	}
	return nil, cg.unsupported(&n, "unsupported unary operator %s", n.Op)
}

// genIncDec emits ++/-- on target. With want set the expression value is
// left on the stack: the new value for prefix forms, the old for postfix.
func (cg *CodeGen) genIncDec(target NodeID, op TokenType, prefix, want bool) (*isa.Type, error) {
	t, err := cg.genAddress(target)
	if err != nil {
		return nil, err
	}
	if t.Kind == isa.TypeArray {
		return nil, cg.unsupported(cg.arena.Get(target), "cannot modify an array")
	}
	delta := 1.0
	if t.IsAddress() {
		delta = float64(elemSize(t))
	}
	step, undo := isa.ADD, isa.SUB
	if op == MINUS_MINUS {
		step, undo = isa.SUB, isa.ADD
	}

	cg.emit(isa.DUP, 0)
	if want {
		cg.emit(isa.DUP, 0)
	}
	cg.emit(loadOp(t), 0)
	cg.emit(isa.PUSH_IMM, delta)
	cg.emit(step, 0)
	cg.emit(storeOp(t), 0)
	if want {
		cg.emit(loadOp(t), 0)
		if !prefix {
			cg.emit(isa.PUSH_IMM, delta)
			cg.emit(undo, 0)
		}
	}
	return t, nil
}

var compoundOps = map[TokenType]TokenType{
	PLUS_ASSIGN:    PLUS,
	MINUS_ASSIGN:   MINUS,
	STAR_ASSIGN:    STAR,
	SLASH_ASSIGN:   SLASH,
	PERCENT_ASSIGN: PERCENT,
}

// genAssign emits = and compound assignments. Assigning to an undeclared
// name declares it with the type of the right-hand side.
func (cg *CodeGen) genAssign(id NodeID, want bool) (*isa.Type, error) {
	n := *cg.arena.Get(id)
	target := cg.arena.Get(n.A)

	if target.Kind == NodeIdent && n.Op == ASSIGN {
		if _, ok := cg.syms.Lookup(target.Text); !ok && !IsBuiltin(target.Text) {
			return cg.genImplicitDecl(target.Text, n.B, want, n.Line)
		}
	}

	t, err := cg.genAddress(n.A)
	if err != nil {
		return nil, err
	}
	if t.Kind == isa.TypeArray {
		return nil, cg.unsupported(&n, "cannot assign to an array")
	}
	if want {
		cg.emit(isa.DUP, 0)
	}

	if n.Op == ASSIGN {
		vt, err := cg.genExpr(n.B)
		if err != nil {
			return nil, err
		}
		cg.convert(vt, t)
	} else {
		cg.emit(isa.DUP, 0)
		cg.emit(loadOp(t), 0)
		rt, err := cg.genExpr(n.B)
		if err != nil {
			return nil, err
		}
		vt, err := cg.applyBinary(compoundOps[n.Op], t, rt, n.Line)
		if err != nil {
			return nil, err
		}
		cg.convert(vt, t)
	}
	cg.emit(storeOp(t), 0)
	if want {
		cg.emit(loadOp(t), 0)
	}
	return t, nil
}

func (cg *CodeGen) genImplicitDecl(name string, value NodeID, want bool, line int) (*isa.Type, error) {
	vt, err := cg.genExpr(value)
	if err != nil {
		return nil, err
	}
	t := decay(vt)
	if t == nil || t.Kind == isa.TypeVoid || t.Kind == isa.TypeFunction {
		t = isa.Int()
	}
	sym, _, err := cg.syms.Declare(name, t, line)
	if err != nil {
		return nil, err
	}
	if want {
		cg.emit(isa.DUP, 0)
	}
	cg.pushSymAddr(sym)
	cg.emit(isa.SWAP, 0)
	cg.emit(storeOp(t), 0)
	return t, nil
}

// genCall emits a call to a user function or a built-in.
func (cg *CodeGen) genCall(id NodeID) (*isa.Type, error) {
	n := *cg.arena.Get(id)
	sym, builtin, err := cg.syms.Resolve(n.Text, n.Line)
	if err != nil {
		return nil, err
	}
	if builtin {
		return cg.genBuiltin(&n)
	}
	if !sym.Function {
		return nil, cg.unsupported(&n, "%q is not a function", n.Text)
	}
	if len(n.List) != len(sym.Params) {
		return nil, cg.unsupported(&n, "function %q expects %d arguments, got %d", n.Text, len(sym.Params), len(n.List))
	}
	for i, arg := range n.List {
		vt, err := cg.genExpr(arg)
		if err != nil {
			return nil, err
		}
		cg.convert(vt, sym.Params[i])
	}
	cg.emitCall(n.Text, n.Line)
	return sym.Type.Base, nil
}

func (cg *CodeGen) emitCall(name string, line int) {
	idx := cg.emitStr(isa.CALL, -1, name)
	cg.callFixups = append(cg.callFixups, callFixup{fixup: fixup{top: cg.inTop, idx: idx}, name: name, line: line})
}

// genStmt emits a statement. Statements leave the stack as they found it.
func (cg *CodeGen) genStmt(id NodeID) error {
	n := *cg.arena.Get(id)
	switch n.Kind {
	case NodeEmpty:
		return nil

	case NodeExprStmt:
		return cg.genExprStmt(n.A)

	case NodeVarDecl:
		return cg.genVarDecl(&n)

	case NodeBlock:
		for _, stmt := range n.List {
			if err := cg.genStmt(stmt); err != nil {
				return err
			}
		}
		return nil

	case NodeIf:
		if _, err := cg.genExpr(n.A); err != nil {
			return err
		}
		skip := cg.emit(isa.JMP_IF_NOT, 0)
		if err := cg.genStmt(n.B); err != nil {
			return err
		}
		if n.C == 0 {
			cg.patch(skip, cg.here())
			return nil
		}
		end := cg.emit(isa.JMP, 0)
		cg.patch(skip, cg.here())
		if err := cg.genStmt(n.C); err != nil {
			return err
		}
		cg.patch(end, cg.here())
		return nil

	case NodeWhile:
		start := cg.here()
		if _, err := cg.genExpr(n.A); err != nil {
			return err
		}
		exit := cg.emit(isa.JMP_IF_NOT, 0)
		cg.loopStack = append(cg.loopStack, loopLabels{})
		if err := cg.genStmt(n.B); err != nil {
			return err
		}
		cg.emit(isa.JMP, float64(start))
		cg.patch(exit, cg.here())
		cg.closeLoop(start)
		return nil

	case NodeDoWhile:
		start := cg.here()
		cg.loopStack = append(cg.loopStack, loopLabels{})
		if err := cg.genStmt(n.A); err != nil {
			return err
		}
		cont := cg.here()
		if _, err := cg.genExpr(n.B); err != nil {
			return err
		}
		cg.emit(isa.JMP_IF, float64(start))
		cg.closeLoop(cont)
		return nil

	case NodeFor:
		if n.A != 0 {
			if err := cg.genStmt(n.A); err != nil {
				return err
			}
		}
		start := cg.here()
		exit := -1
		if n.B != 0 {
			if _, err := cg.genExpr(n.B); err != nil {
				return err
			}
			exit = cg.emit(isa.JMP_IF_NOT, 0)
		}
		cg.loopStack = append(cg.loopStack, loopLabels{})
		if err := cg.genStmt(n.D); err != nil {
			return err
		}
		cont := cg.here()
		if n.C != 0 {
			if err := cg.genStmt(n.C); err != nil {
				return err
			}
		}
		cg.emit(isa.JMP, float64(start))
		if exit >= 0 {
			cg.patch(exit, cg.here())
		}
		cg.closeLoop(cont)
		return nil

	case NodeReturn:
		return cg.genReturn(&n)

	case NodeBreak, NodeContinue:
		if len(cg.loopStack) == 0 {
			return cg.unsupported(&n, "%s statement outside of loop", n.Kind)
		}
		loop := &cg.loopStack[len(cg.loopStack)-1]
		idx := cg.emit(isa.JMP, 0)
		if n.Kind == NodeBreak {
			loop.breaks = append(loop.breaks, idx)
		} else {
			loop.continues = append(loop.continues, idx)
		}
		return nil

	case NodeFunction:
		return cg.unsupported(&n, "function %q must be defined at top level", n.Text)
	}
	return cg.unsupported(&n, "unexpected %s node in statement", n.Kind)
}

// closeLoop pops the innermost loop, sending continues to cont and breaks
// to the current position.
func (cg *CodeGen) closeLoop(cont int) {
	loop := cg.loopStack[len(cg.loopStack)-1]
	cg.loopStack = cg.loopStack[:len(cg.loopStack)-1]
	for _, idx := range loop.continues {
		cg.patch(idx, cont)
	}
	for _, idx := range loop.breaks {
		cg.patch(idx, cg.here())
	}
}

// genExprStmt evaluates an expression for its side effects.
func (cg *CodeGen) genExprStmt(id NodeID) error {
	n := cg.arena.Get(id)
	var err error
	switch {
	case n.Kind == NodeAssign:
		_, err = cg.genAssign(id, false)
	case n.Kind == NodePostfix:
		_, err = cg.genIncDec(n.A, n.Op, false, false)
	case n.Kind == NodeUnary && (n.Op == PLUS_PLUS || n.Op == MINUS_MINUS):
		_, err = cg.genIncDec(n.A, n.Op, true, false)
	default:
		if _, err = cg.genExpr(id); err == nil {
			cg.emit(isa.POP, 0)
		}
	}
	return err
}

// genVarDecl reserves storage for a declaration and emits its initializer.
func (cg *CodeGen) genVarDecl(n *Node) error {
	t := n.Type
	var init *Node
	if n.A != 0 {
		init = cg.arena.Get(n.A)
	}

	if t.Kind == isa.TypeArray && t.Len == 0 {
		switch {
		case init != nil && init.Kind == NodeInitList:
			t = isa.ArrayOf(t.Base, len(init.List))
		case init != nil && init.Kind == NodeString && t.Base.Kind == isa.TypeChar:
			t = isa.ArrayOf(t.Base, len(init.Text)+1)
		default:
			return cg.unsupported(n, "array %q needs a size or an initializer", n.Text)
		}
		if t.Len == 0 {
			return cg.unsupported(n, "array %q has zero length", n.Text)
		}
	}

	sym, _, err := cg.syms.Declare(n.Text, t, n.Line)
	if err != nil {
		return err
	}
	if sym.Global && cg.syms.GlobalSize() > cg.maxData {
		return fault.At(fault.ResourceExhausted, n.Line, "global %q does not fit in %d bytes of data", n.Text, cg.maxData)
	}
	if init == nil {
		return nil
	}

	if t.Kind != isa.TypeArray {
		if init.Kind == NodeInitList {
			if len(init.List) != 1 {
				return cg.unsupported(n, "scalar %q initialized with %d values", n.Text, len(init.List))
			}
			return cg.storeElem(sym, 0, t, init.List[0])
		}
		return cg.storeElem(sym, 0, t, n.A)
	}

	switch init.Kind {
	case NodeInitList:
		return cg.genInitList(sym, 0, t, init)
	case NodeString:
		if t.Base.Kind != isa.TypeChar {
			break
		}
		if len(init.Text)+1 > t.Len {
			return cg.unsupported(n, "string literal is too long for %s", t)
		}
		for i := 0; i < t.Len; i++ {
			var b byte
			if i < len(init.Text) {
				b = init.Text[i]
			}
			cg.pushSymAddr(sym)
			cg.emit(isa.PUSH_IMM, float64(i))
			cg.emit(isa.ADD, 0)
			cg.emit(isa.PUSH_IMM, float64(b))
			cg.emit(isa.STORE_BYTE, 0)
		}
		return nil
	}
	return cg.unsupported(n, "array %q needs a brace-enclosed initializer", n.Text)
}

// storeElem stores the value of expr at sym+offset.
func (cg *CodeGen) storeElem(sym isa.Symbol, offset int, t *isa.Type, expr NodeID) error {
	cg.pushSymAddr(sym)
	if offset != 0 {
		cg.emit(isa.PUSH_IMM, float64(offset))
		cg.emit(isa.ADD, 0)
	}
	if expr == 0 {
		cg.emit(isa.PUSH_IMM, 0)
	} else {
		vt, err := cg.genExpr(expr)
		if err != nil {
			return err
		}
		cg.convert(vt, t)
	}
	cg.emit(storeOp(t), 0)
	return nil
}

// genInitList fills the array t at sym+offset element by element. Elements
// without an initializer are zeroed.
func (cg *CodeGen) genInitList(sym isa.Symbol, offset int, t *isa.Type, list *Node) error {
	if len(list.List) > t.Len {
		return cg.unsupported(list, "too many initializers for %s", t)
	}
	elem := t.Base
	size := elem.Size()
	for i := 0; i < t.Len; i++ {
		var expr NodeID
		if i < len(list.List) {
			expr = list.List[i]
		}
		off := offset + i*size
		if elem.Kind == isa.TypeArray {
			sub := &Node{Kind: NodeInitList, Line: list.Line}
			if expr != 0 {
				if item := cg.arena.Get(expr); item.Kind == NodeInitList {
					sub = item
				} else {
					return cg.unsupported(list, "nested array needs a brace-enclosed initializer")
				}
			}
			if err := cg.genInitList(sym, off, elem, sub); err != nil {
				return err
			}
			continue
		}
		if expr != 0 && cg.arena.Get(expr).Kind == NodeInitList {
			return cg.unsupported(list, "unexpected nested initializer")
		}
		if expr == 0 && sym.Global {
			continue // the data segment starts zeroed
		}
		if err := cg.storeElem(sym, off, elem, expr); err != nil {
			return err
		}
	}
	return nil
}

// genReturn leaves the (converted) result on the stack and returns. At top
// level it ends the program.
func (cg *CodeGen) genReturn(n *Node) error {
	if cg.fn == nil {
		if n.A != 0 {
			if err := cg.genExprStmt(n.A); err != nil {
				return err
			}
		}
		cg.emit(isa.HALT, 0)
		return nil
	}
	if n.A != 0 {
		vt, err := cg.genExpr(n.A)
		if err != nil {
			return err
		}
		cg.convert(vt, cg.fn.ret)
	} else {
		cg.emit(isa.PUSH_IMM, 0)
	}
	cg.emit(isa.LEAVE, 0)
	cg.emit(isa.RET, 0)
	return nil
}

// genFunction emits a function body into the function section:
//
//	ENTER frame
//	ADDR_OF param; SWAP; STORE   (last argument first)
//	body
//	PUSH_IMM 0; LEAVE; RET
func (cg *CodeGen) genFunction(n *Node) error {
	if n.A == 0 {
		return nil // prototype, registered in the prepass
	}
	if cg.defined[n.Text] {
		return cg.unsupported(n, "redefinition of function %q", n.Text)
	}
	cg.defined[n.Text] = true

	cg.inTop = false
	defer func() { cg.inTop = true }()

	entry := cg.here()
	cg.syms.SetFunctionAddress(n.Text, entry)
	cg.syms.EnterFunction()
	cg.fn = &funcState{name: n.Text, ret: n.Type}
	defer func() { cg.fn = nil }()

	enter := cg.emit(isa.ENTER, 0)
	params := make([]isa.Symbol, len(n.List))
	for i, id := range n.List {
		p := cg.arena.Get(id)
		sym, dup, err := cg.syms.Declare(p.Text, p.Type, p.Line)
		if dup {
			cg.syms.ExitFunction()
			return cg.unsupported(p, "duplicate parameter %q in function %q", p.Text, n.Text)
		}
		if err != nil {
			cg.syms.ExitFunction()
			return err
		}
		params[i] = sym
	}
	for i := len(params) - 1; i >= 0; i-- {
		cg.emit(isa.ADDR_OF, float64(params[i].Address))
		cg.emit(isa.SWAP, 0)
		cg.emit(storeOp(params[i].Type), 0)
	}

	if err := cg.genStmt(n.A); err != nil {
		cg.syms.ExitFunction()
		return err
	}
	cg.emit(isa.PUSH_IMM, 0)
	cg.emit(isa.LEAVE, 0)
	cg.emit(isa.RET, 0)

	frame := cg.syms.ExitFunction()
	cg.patch(enter, frame)
	log.Debugf("function %s: entry %d, %d instructions, frame %d bytes", n.Text, entry, cg.here()-entry, frame)
	return nil
}

// declareFunctions registers every function signature so calls may precede
// definitions.
func (cg *CodeGen) declareFunctions(root *Node) error {
	for _, id := range root.List {
		n := cg.arena.Get(id)
		if n.Kind != NodeFunction {
			continue
		}
		params := make([]*isa.Type, len(n.List))
		for i, pid := range n.List {
			params[i] = cg.arena.Get(pid).Type
		}
		if _, err := cg.syms.DeclareFunction(n.Text, n.Type, params, n.Line); err != nil {
			return err
		}
	}
	return nil
}

// Generate compiles the program rooted at root into an immutable Program
// under the default Options.
func Generate(arena *Arena, root NodeID, syms *SymbolTable) (*isa.Program, error) {
	return GenerateWith(arena, root, syms, Options{})
}

func GenerateWith(arena *Arena, root NodeID, syms *SymbolTable, opts Options) (*isa.Program, error) {
	cg := newCodeGen(arena, syms, opts)
	prog := arena.Get(root)
	if err := cg.declareFunctions(prog); err != nil {
		return nil, err
	}

	for _, id := range prog.List {
		n := arena.Get(id)
		var err error
		if n.Kind == NodeFunction {
			err = cg.genFunction(n)
		} else {
			err = cg.genStmt(id)
		}
		if err != nil {
			return nil, err
		}
	}

	if cg.defined["main"] {
		sym, _ := syms.Function("main")
		for range sym.Params {
			cg.emit(isa.PUSH_IMM, 0)
		}
		cg.emitCall("main", prog.Line)
		cg.emit(isa.POP, 0)
	}
	cg.emit(isa.HALT, 0)

	return cg.link()
}

// link concatenates the sections and resolves global addresses and calls.
func (cg *CodeGen) link() (*isa.Program, error) {
	entry := len(cg.funcs)
	code := make([]isa.Instruction, 0, len(cg.funcs)+len(cg.top))
	code = append(code, cg.funcs...)
	for _, in := range cg.top {
		switch in.Op {
		case isa.JMP, isa.JMP_IF, isa.JMP_IF_NOT:
			in.Imm += float64(entry)
		}
		code = append(code, in)
	}
	abs := func(f fixup) int {
		if f.top {
			return f.idx + entry
		}
		return f.idx
	}

	// Globals follow the string pool, aligned to a cell.
	base := (len(cg.strPool) + isa.CellSize - 1) / isa.CellSize * isa.CellSize
	if size := base + cg.syms.GlobalSize(); size > cg.maxData {
		return nil, fault.At(fault.ResourceExhausted, 0, "data segment needs %d bytes, limit is %d", size, cg.maxData)
	}
	data := make([]byte, base+cg.syms.GlobalSize())
	copy(data, cg.strPool)
	for _, f := range cg.globalFixups {
		code[abs(f)].Imm += float64(base)
	}

	functions := make(map[string]int, len(cg.defined))
	for name := range cg.defined {
		sym, _ := cg.syms.Function(name)
		functions[name] = sym.Address
	}
	for _, f := range cg.callFixups {
		idx, ok := functions[f.name]
		if !ok {
			return nil, fault.At(fault.UnknownSymbol, f.line, "function %q is declared but never defined", f.name)
		}
		code[abs(f.fixup)].Imm = float64(idx)
	}

	globals := cg.syms.Globals()
	for name, sym := range globals {
		if sym.Function {
			if _, ok := functions[name]; !ok {
				delete(globals, name)
			}
			continue
		}
		sym.Address += base
		globals[name] = sym
	}
	return isa.NewProgram(code, data, functions, globals, entry), nil
}
