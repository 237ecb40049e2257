// Package trace reconstructs a message's tree across channels by walking
// source-map back-references (backward) and forward-references (forward).
// The visited-set/depth-bound cycle guard is ported from graph/dag.go's
// recursion-stack cycle detection, generalized from an action dependency
// graph to a cross-channel message chain.
package trace

import (
	"fmt"
	"time"

	"github.com/fluxhealth/channelengine/message"
)

// ChannelStore is the per-channel read surface trace needs. A real
// implementation is backed by store.Store; tests supply an in-memory fake.
type ChannelStore interface {
	GetMessage(messageID int64) (*message.Message, error)
	GetSourceMapContent(messageID int64) ([]byte, error)
	ListSourceMapEntries() ([]message.SourceMapEntry, error)
}

// Decoder extracts the immediate parent from a raw SOURCE_MAP content
// blob. ok is false when the blob is absent, empty, or malformed — any of
// which means the node should be treated as root.
type Decoder func(raw []byte) (parentChannelID string, parentMessageID int64, ok bool)

// Registry resolves a channel ID to its store and to the channels
// downstream of it (those whose destinations are VM writers targeting it).
type Registry interface {
	Store(channelID string) (ChannelStore, bool)
	Downstream(channelID string) []string
}

// Node is one point in the reconstructed tree.
type Node struct {
	ChannelID             string
	MessageID             int64
	ReceivedDate          time.Time
	Status                string
	ConnectorName         string
	ParentDestinationName string
	Depth                 int
	Latency               time.Duration
	Children              []*Node
	Error                 string
}

const defaultMaxDepth = 50

// Backward walks from (channelID, messageID) up to the root, returning the
// chain ordered root-first. A missing, empty, or malformed SOURCE_MAP ends
// the walk at that node (it is the root); a revisited node breaks a cycle
// at the point it's detected rather than looping forever.
func Backward(reg Registry, decode Decoder, channelID string, messageID int64, maxDepth int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	visited := make(map[string]bool)
	var chain []*Node

	curChannel, curMsg := channelID, messageID
	for step := 0; step <= maxDepth; step++ {
		key := fmt.Sprintf("%s:%d", curChannel, curMsg)
		if visited[key] {
			break
		}
		visited[key] = true

		store, ok := reg.Store(curChannel)
		if !ok {
			return nil, fmt.Errorf("trace: channel %s not found", curChannel)
		}
		msg, err := store.GetMessage(curMsg)
		if err != nil {
			return nil, fmt.Errorf("trace: get message %s/%d: %w", curChannel, curMsg, err)
		}

		node := &Node{ChannelID: curChannel, MessageID: curMsg, ReceivedDate: msg.ReceivedDate}
		chain = append([]*Node{node}, chain...)

		raw, err := store.GetSourceMapContent(curMsg)
		if err != nil || len(raw) == 0 {
			break
		}
		parentChannel, parentMsg, ok := decode(raw)
		if !ok {
			break
		}
		curChannel, curMsg = parentChannel, parentMsg
	}

	annotate(chain)
	return chain, nil
}

func annotate(chain []*Node) {
	if len(chain) == 0 {
		return
	}
	root := chain[0].ReceivedDate
	for i, n := range chain {
		n.Depth = i
		n.Latency = n.ReceivedDate.Sub(root)
	}
}

// Forward builds the descendant tree rooted at (channelID, messageID). A
// downstream channel that cannot be read is reported as an error node
// rather than aborting the rest of the walk.
func Forward(reg Registry, channelID string, messageID int64, maxDepth, maxFanout int) *Node {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if maxFanout <= 0 {
		maxFanout = 100
	}

	root := &Node{ChannelID: channelID, MessageID: messageID}
	if store, ok := reg.Store(channelID); ok {
		if msg, err := store.GetMessage(messageID); err == nil {
			root.ReceivedDate = msg.ReceivedDate
		}
	}

	visited := map[string]bool{fmt.Sprintf("%s:%d", channelID, messageID): true}
	buildForward(reg, root, visited, 0, maxDepth, maxFanout)
	return root
}

func buildForward(reg Registry, node *Node, visited map[string]bool, depth, maxDepth, maxFanout int) {
	if depth >= maxDepth {
		return
	}

	for _, downstreamChannel := range reg.Downstream(node.ChannelID) {
		store, ok := reg.Store(downstreamChannel)
		if !ok {
			node.Children = append(node.Children, &Node{ChannelID: downstreamChannel, Error: fmt.Sprintf("trace: channel %s not found", downstreamChannel)})
			continue
		}

		entries, err := store.ListSourceMapEntries()
		if err != nil {
			node.Children = append(node.Children, &Node{ChannelID: downstreamChannel, Error: err.Error()})
			continue
		}

		seen := make(map[int64]bool)
		count := 0
		for _, e := range entries {
			if e.ParentChannelID != node.ChannelID || e.ParentMessageID != node.MessageID {
				continue
			}
			if seen[e.MessageID] {
				continue
			}
			seen[e.MessageID] = true
			count++
			if count > maxFanout {
				break
			}

			key := fmt.Sprintf("%s:%d", downstreamChannel, e.MessageID)
			if visited[key] {
				continue
			}
			visited[key] = true

			child := &Node{ChannelID: downstreamChannel, MessageID: e.MessageID, Depth: depth + 1}
			if msg, err := store.GetMessage(e.MessageID); err == nil {
				child.ReceivedDate = msg.ReceivedDate
				child.Latency = child.ReceivedDate.Sub(node.ReceivedDate)
			}
			node.Children = append(node.Children, child)
			buildForward(reg, child, visited, depth+1, maxDepth, maxFanout)
		}
	}
}
