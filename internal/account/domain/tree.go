package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Node is one account in a Tree. Parent and Children are indexes into
// Tree.Nodes; a root has Parent -1.
type Node struct {
	Account  Account
	Parent   int
	Children []int
	Depth    int
}

// Tree is an arena view of the chart of accounts keyed by stable codes.
type Tree struct {
	Nodes []Node
	Index map[string]int
	Roots []int
}

// BuildTree arranges accounts into an arena. Children are ordered by code.
func BuildTree(accounts []Account) Tree {
	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	t := Tree{
		Nodes: make([]Node, len(sorted)),
		Index: make(map[string]int, len(sorted)),
	}
	for i, acc := range sorted {
		t.Nodes[i] = Node{Account: acc, Parent: -1}
		t.Index[acc.Code] = i
	}
	for i := range t.Nodes {
		parent := t.Nodes[i].Account.ParentCode
		if parent == nil {
			t.Roots = append(t.Roots, i)
			continue
		}
		p, ok := t.Index[*parent]
		if !ok {
			t.Roots = append(t.Roots, i)
			continue
		}
		t.Nodes[i].Parent = p
		t.Nodes[p].Children = append(t.Nodes[p].Children, i)
	}
	for _, r := range t.Roots {
		t.setDepth(r, 0)
	}
	return t
}

func (t Tree) setDepth(i, depth int) {
	t.Nodes[i].Depth = depth
	for _, c := range t.Nodes[i].Children {
		t.setDepth(c, depth+1)
	}
}

func (t Tree) Get(code string) (Account, bool) {
	i, ok := t.Index[code]
	if !ok {
		return Account{}, false
	}
	return t.Nodes[i].Account, true
}

func (t Tree) IsLeaf(code string) bool {
	i, ok := t.Index[code]
	return ok && len(t.Nodes[i].Children) == 0
}

// IsAncestor reports whether ancestor lies on code's parent chain.
func (t Tree) IsAncestor(ancestor, code string) bool {
	i, ok := t.Index[code]
	if !ok {
		return false
	}
	for steps := 0; steps <= len(t.Nodes); steps++ {
		p := t.Nodes[i].Parent
		if p < 0 {
			return false
		}
		if t.Nodes[p].Account.Code == ancestor {
			return true
		}
		i = p
	}
	return true
}

// Walk visits accounts depth first in code order.
func (t Tree) Walk(fn func(n Node)) {
	var visit func(i int)
	visit = func(i int) {
		fn(t.Nodes[i])
		for _, c := range t.Nodes[i].Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
}

// Leaves returns the codes of every postable account under code, or code
// itself when it is a leaf.
func (t Tree) Leaves(code string) []string {
	i, ok := t.Index[code]
	if !ok {
		return nil
	}
	var out []string
	var visit func(i int)
	visit = func(i int) {
		if len(t.Nodes[i].Children) == 0 {
			out = append(out, t.Nodes[i].Account.Code)
			return
		}
		for _, c := range t.Nodes[i].Children {
			visit(c)
		}
	}
	visit(i)
	return out
}

// RollupFunctional sums the functional balances of every leaf under code,
// expressed in code's normal-balance sign.
func (t Tree) RollupFunctional(code string) decimal.Decimal {
	root, ok := t.Get(code)
	if !ok {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, leaf := range t.Leaves(code) {
		acc, _ := t.Get(leaf)
		debitPositive := acc.DebitPositive(acc.BalanceFunctional)
		total = total.Add(root.DebitPositive(debitPositive))
	}
	return total
}
