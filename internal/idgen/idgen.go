// Package idgen issues time-ordered int64 ids for stored events.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator produces unique ids.
type Generator interface {
	Next() int64
}

// Node is a snowflake-backed Generator. Processes sharing one store must use
// distinct node ids (0-1023).
type Node struct {
	node *snowflake.Node
}

func New(nodeID int64) (*Node, error) {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Node{node: n}, nil
}

func (n *Node) Next() int64 { return n.node.Generate().Int64() }
