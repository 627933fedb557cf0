package syncengine

import (
	"encoding/json"
	"fmt"

	"github.com/avorein/quire/internal/models"
)

// blockContent is the serialized form of one node stored in a block's
// content column. Ephemeral attributes are stripped before encoding.
type blockContent struct {
	Text  string          `json:"text"`
	Attrs []models.AttrKV `json:"attrs,omitempty"`
}

// encodeNode serializes a node's persisted meaning.
func encodeNode(n *models.Node) (string, error) {
	data, err := json.Marshal(blockContent{Text: n.Text, Attrs: n.PersistentAttrs()})
	if err != nil {
		return "", fmt.Errorf("syncengine: encode node %s: %w", n.ID, err)
	}
	return string(data), nil
}

// decodeBlock reconstructs a node from a stored block.
func decodeBlock(b models.Block) (models.Node, error) {
	var c blockContent
	if err := json.Unmarshal([]byte(b.Content), &c); err != nil {
		return models.Node{}, fmt.Errorf("syncengine: decode block %s: %w", b.ID, err)
	}
	n := models.Node{ID: b.ID, Type: b.Type, Text: c.Text}
	for _, kv := range c.Attrs {
		n.SetAttr(kv.Key, kv.Value)
	}
	return n, nil
}

// blocksFrom computes the block set for a snapshot. Ordinals are assigned
// densely in document order, keeping them unique and totally ordered.
func blocksFrom(snapshot *models.Document) ([]models.Block, error) {
	out := make([]models.Block, 0, len(snapshot.Nodes))
	for i := range snapshot.Nodes {
		n := &snapshot.Nodes[i]
		content, err := encodeNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Block{
			NotebookID: snapshot.NotebookID,
			ID:         n.ID,
			Type:       n.Type,
			Ordinal:    i,
			Content:    content,
		})
	}
	return out, nil
}
