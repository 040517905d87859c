package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// RoomInfo is the banner shown once a room is joined.
type RoomInfo struct {
	RoomID  string
	Role    string
	JoinCmd string
	Copied  bool
}

func (r RoomInfo) View() string {
	header := fmt.Sprintf("%s Joined as %s", RoleIcon(r.Role), BoldStyle.Render(r.Role))
	lines := []string{
		header,
		"",
		fmt.Sprintf("%s Room ID:  %s", IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID)),
	}
	if r.JoinCmd != "" {
		lines = append(lines, fmt.Sprintf("%s Crew:     %s", IconCrew, MutedStyle.Render(r.JoinCmd)))
	}
	if r.Copied {
		lines = append(lines, "", MutedStyle.Render(IconCopy+" room id copied to clipboard"))
	}
	return SuccessBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func RenderRoomInfo(info RoomInfo) {
	fmt.Println(info.View())
}
