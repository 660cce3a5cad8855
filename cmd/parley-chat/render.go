package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/models"
)

type theme struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	activity  lipgloss.Style
	alert     lipgloss.Style
	form      lipgloss.Style
	pending   lipgloss.Style
	notice    lipgloss.Style
	noticeErr lipgloss.Style
	help      lipgloss.Style
}

func newTheme() theme {
	muted := lipgloss.Color("#7f8c98")
	return theme{
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e6edf3")).Background(lipgloss.Color("#1f6feb")).Padding(0, 1),
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff")).Bold(true),
		activity:  lipgloss.NewStyle().Foreground(muted),
		alert:     lipgloss.NewStyle().Foreground(lipgloss.Color("#ff6b9d")),
		form:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#ffd166")).Padding(0, 1),
		pending:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		noticeErr: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff6b9d")).Bold(true),
		help:      lipgloss.NewStyle().Foreground(muted),
	}
}

// renderTranscript draws messages in display order. Assistant content is
// limited to what the typewriter has revealed.
func renderTranscript(msgs []models.Message, tw *typewriter, th theme, width int) string {
	if len(msgs) == 0 {
		return th.help.Render("No messages yet. Type a prompt and press Enter.")
	}
	wrap := lipgloss.NewStyle()
	if width > 4 {
		wrap = wrap.Width(width - 2)
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Role == models.RoleUser && m.Text != "" {
			b.WriteString(th.user.Render("You") + "\n")
			b.WriteString(wrap.Render(m.Text) + "\n")
		}
		for _, a := range m.Activities {
			if a.ActivityType == models.ActivityTypeAlert {
				b.WriteString(th.alert.Render("  ! "+a.Message) + "\n")
			} else {
				b.WriteString(th.activity.Render("  · "+a.Message) + "\n")
			}
		}

		switch {
		case m.Metadata != nil:
			b.WriteString(th.assistant.Render("Assistant") + "\n")
			if m.Role != models.RoleUser && m.Text != "" {
				b.WriteString(wrap.Render(m.Text) + "\n")
			}
			b.WriteString(th.form.Render(renderForm(m.Metadata)) + "\n")
		case m.ContentText() != "":
			b.WriteString(th.assistant.Render("Assistant") + "\n")
			b.WriteString(wrap.Render(tw.visible(m)) + "\n")
		case m.Status == models.MessageStatusPending && client.IsTempID(m.ID):
			b.WriteString(th.pending.Render("  sending...") + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderForm(md *models.FormMetadata) string {
	lines := []string{md.FormTitle}
	for _, f := range md.Fields {
		req := ""
		if f.IsRequired {
			req = " *"
		}
		line := fmt.Sprintf("- %s (%s)%s", f.Label, f.Type, req)
		if len(f.Options) > 0 {
			line += ": " + strings.Join(f.Options, " / ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// renderNotices shows the newest notices, at most limit of them.
func renderNotices(notices []client.Notice, th theme, limit int) string {
	if len(notices) == 0 || limit <= 0 {
		return ""
	}
	if len(notices) > limit {
		notices = notices[len(notices)-limit:]
	}
	lines := make([]string, 0, len(notices))
	for _, n := range notices {
		stamp := n.Time.Format("15:04:05")
		if n.Level == client.NoticeError {
			lines = append(lines, th.noticeErr.Render(stamp+" "+n.Text))
		} else {
			lines = append(lines, th.notice.Render(stamp+" "+n.Text))
		}
	}
	return strings.Join(lines, "\n")
}
