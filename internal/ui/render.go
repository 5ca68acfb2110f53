package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// RenderItemTable renders search results as a table: key, category,
// priority, channel, age. A private marker prefixes keys the viewer owns
// privately.
func RenderItemTable(items []*types.ContextItem, width int) string {
	t := NewTable(width, "Key", "Category", "Priority", "Channel", "Age")
	for _, item := range items {
		key := item.Key
		if item.IsPrivate {
			key = "🔒 " + key
			if !ShouldUseEmoji() {
				key = "~" + item.Key
			}
		}
		t.Row(key, string(item.Category), string(item.Priority), item.Channel, Age(item.UpdatedAt))
	}
	return t.String()
}

// RenderItemDetail renders one item with its value. When markdown is set
// and the terminal supports it, the value goes through glamour.
func RenderItemDetail(item *types.ContextItem, markdown bool, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(item.Key))
	b.WriteString("\n")

	meta := fmt.Sprintf("%s · %s · %s · %s",
		item.Category, item.Priority, item.Channel, Age(item.UpdatedAt))
	if item.IsPrivate {
		meta += " · private"
	}
	b.WriteString(MutedStyle.Render(meta))
	b.WriteString("\n\n")

	value := item.Value
	if markdown && IsTerminal() {
		if rendered, err := RenderMarkdown(value, width); err == nil {
			value = rendered
		}
	}
	b.WriteString(value)
	return b.String()
}

// RenderMarkdown renders markdown for terminal display.
func RenderMarkdown(source string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	out, err := r.Render(source)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// RenderRelatedTree renders graph traversal results as a tree rooted at
// the queried key. Paths arrive depth-first from the storage layer, so
// parents always precede children.
func RenderRelatedTree(rootKey string, related []*types.RelatedItem) string {
	t := tree.New().Root(KeyStyle.Render(rootKey))
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))

	nodes := map[string]*tree.Tree{rootKey: t}
	for _, rel := range related {
		label := fmt.Sprintf("%s %s", MutedStyle.Render("["+string(rel.Type)+"]"), rel.Key)
		if rel.Direction == "incoming" {
			label = fmt.Sprintf("%s %s", MutedStyle.Render("[←"+string(rel.Type)+"]"), rel.Key)
		}
		child := tree.New().Root(label)
		child.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
		nodes[rel.Key] = child

		parent := t
		if len(rel.Path) >= 2 {
			if p, ok := nodes[rel.Path[len(rel.Path)-2]]; ok {
				parent = p
			}
		}
		parent.Child(child)
	}
	return t.String()
}

// RenderEvent formats one mutation event as a single watch output line.
func RenderEvent(ev *types.MutationEvent) string {
	verb := string(ev.Type)
	style := SuccessStyle
	switch ev.Type {
	case types.EventUpdated:
		style = WarningStyle
	case types.EventDeleted:
		style = ErrorStyle
	}
	return fmt.Sprintf("%s %s %s %s",
		MutedStyle.Render(ev.Timestamp.Local().Format("15:04:05")),
		style.Render(fmt.Sprintf("%-7s", verb)),
		KeyStyle.Render(ev.Key),
		MutedStyle.Render(fmt.Sprintf("#%d %s/%s", ev.Sequence, ev.Channel, ev.Category)))
}

// Age formats how long ago t was, coarsely.
func Age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
