package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/chatsync/pkg/chat"
)

const maxLabelContent = 48

// RenderConversation draws the message list as a chain in display order. Messages by self,
// by others and system messages are styled apart, and unconfirmed sends are dashed.
func RenderConversation(conv chat.Conversation, self string) ([]byte, error) {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.TBRank)
	graph.SetLabel(conv.Label(self))

	var prev *cgraph.Node
	for i, m := range conv.Messages {
		n, err := graph.CreateNode("m" + strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(m))
		n.SetShape(cgraph.BoxShape)
		switch {
		case m.IsSystem():
			n.SetShape(cgraph.NoteShape)
			n.SetColor("gray")
		case m.Author == self:
			n.SetColor("blue")
		default:
			n.SetColor("darkgreen")
		}
		if m.ID == "" {
			n.SetStyle(cgraph.DashedNodeStyle)
		}

		if prev != nil {
			if _, err := graph.CreateEdge("e"+strconv.Itoa(i), prev, n); err != nil {
				return nil, fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return nil, fmt.Errorf("failed to render: %w", err)
	}
	return buff.Bytes(), nil
}

func RenderConversationToSvg(conv chat.Conversation, self string, outputPath string) error {
	raw, err := RenderConversation(conv, self)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToTemp(conv chat.Conversation, self string) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderConversationToSvg(conv, self, tf); err != nil {
		return "", err
	}
	return tf, nil
}

func label(m chat.Message) string {
	content := []rune(m.Content)
	if len(content) > maxLabelContent {
		content = append(content[:maxLabelContent], '…')
	}
	author := m.Author
	if m.IsSystem() {
		author = "system"
	}
	id := m.ID
	if id == "" {
		id = "pending"
	}
	return fmt.Sprintf("%s @%d %s\n%s", author, m.Timestamp, id, string(content))
}
