package compiler

import (
	"fmt"
	"strings"

	"omnivm/pkg/isa"
)

// NodeID indexes a Node in an Arena. The zero NodeID means "absent".
type NodeID int32

// NodeKind tags the variant stored in a Node.
type NodeKind uint8

const (
	NodeInvalid NodeKind = iota

	// Expressions. Every expression leaves exactly one value on the VM stack.
	NodeNumber  // Num; Type is int, double or char
	NodeString  // Text
	NodeIdent   // Text
	NodeBinary  // A Op B
	NodeLogical // A && B, A || B
	NodeUnary   // Op A
	NodePostfix // A Op, for ++ and --
	NodeAssign  // A Op B, Op is = or a compound assignment
	NodeCall    // Text(List...)
	NodeIndex   // A[B]
	NodeCast    // (Type) A
	NodeInitList

	// Statements
	NodeVarDecl  // Type Text = A
	NodeExprStmt // A;
	NodeBlock    // { List... }
	NodeIf       // if (A) B else C
	NodeWhile    // while (A) B
	NodeDoWhile  // do A while (B);
	NodeFor      // for (A; B; C) D
	NodeReturn   // return A;
	NodeBreak
	NodeContinue
	NodeEmpty    // ;
	NodeFunction // Type Text(List...) A; A is absent for a prototype
	NodeProgram  // List of top-level items
)

var nodeKindNames = [...]string{
	NodeInvalid:  "Invalid",
	NodeNumber:   "Number",
	NodeString:   "String",
	NodeIdent:    "Ident",
	NodeBinary:   "Binary",
	NodeLogical:  "Logical",
	NodeUnary:    "Unary",
	NodePostfix:  "Postfix",
	NodeAssign:   "Assign",
	NodeCall:     "Call",
	NodeIndex:    "Index",
	NodeCast:     "Cast",
	NodeInitList: "InitList",
	NodeVarDecl:  "VarDecl",
	NodeExprStmt: "ExprStmt",
	NodeBlock:    "Block",
	NodeIf:       "If",
	NodeWhile:    "While",
	NodeDoWhile:  "DoWhile",
	NodeFor:      "For",
	NodeReturn:   "Return",
	NodeBreak:    "Break",
	NodeContinue: "Continue",
	NodeEmpty:    "Empty",
	NodeFunction: "Function",
	NodeProgram:  "Program",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is one tagged AST variant. Which fields are meaningful depends on Kind;
// see the NodeKind constants.
type Node struct {
	Kind NodeKind
	Line int
	Op   TokenType
	Num  float64
	Text string
	Type *isa.Type

	A, B, C, D NodeID
	List       []NodeID
}

// Arena owns every Node of one parse. Nodes refer to each other by NodeID,
// so the whole tree is released together with the Arena.
type Arena struct {
	nodes []Node
}

// NewArena returns an empty Arena. Slot 0 is reserved for the absent node.
func NewArena() *Arena {
	return &Arena{nodes: make([]Node, 1, 64)}
}

// Add stores n and returns its id.
func (a *Arena) Add(n Node) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

// Get returns the node for id. The pointer is valid until the next Add.
func (a *Arena) Get(id NodeID) *Node {
	return &a.nodes[id]
}

// Len is the number of stored nodes.
func (a *Arena) Len() int { return len(a.nodes) - 1 }

// Dump renders the subtree at id as an indented outline.
func (a *Arena) Dump(id NodeID) string {
	var sb strings.Builder
	a.dump(&sb, id, 0)
	return sb.String()
}

func (a *Arena) dump(sb *strings.Builder, id NodeID, depth int) {
	if id == 0 {
		return
	}
	n := a.Get(id)
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Kind.String())
	switch n.Kind {
	case NodeNumber:
		fmt.Fprintf(sb, " %g", n.Num)
	case NodeString:
		fmt.Fprintf(sb, " %q", n.Text)
	case NodeBinary, NodeLogical, NodeUnary, NodePostfix, NodeAssign:
		fmt.Fprintf(sb, " %s", n.Op)
	}
	if n.Text != "" && n.Kind != NodeString {
		fmt.Fprintf(sb, " %s", n.Text)
	}
	if n.Type != nil {
		fmt.Fprintf(sb, " <%s>", n.Type)
	}
	fmt.Fprintf(sb, "  (line %d)\n", n.Line)
	for _, child := range []NodeID{n.A, n.B, n.C, n.D} {
		a.dump(sb, child, depth+1)
	}
	for _, child := range n.List {
		a.dump(sb, child, depth+1)
	}
}
