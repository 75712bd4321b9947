package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (a *AppView) handlePluginManagerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.pluginInstallMode {
		switch msg.String() {
		case "esc":
			a.pluginInstallMode = false
			a.pluginInstallInput.Reset()
			return a, nil
		case "enter":
			url := strings.TrimSpace(a.pluginInstallInput.Value())
			a.pluginInstallMode = false
			a.pluginInstallInput.Reset()
			if url == "" {
				return a, nil
			}
			return a, a.installPluginCmd(url)
		}
		var cmd tea.Cmd
		a.pluginInstallInput, cmd = a.pluginInstallInput.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "esc", "ctrl+p":
		a.showPluginManager = false
		return a, nil

	case "j", "down":
		if a.selectedPluginIdx < len(a.pluginList)-1 {
			a.selectedPluginIdx++
		}
		return a, nil

	case "k", "up":
		if a.selectedPluginIdx > 0 {
			a.selectedPluginIdx--
		}
		return a, nil

	case " ", "enter":
		if a.selectedPluginIdx < len(a.pluginList) {
			p := a.pluginList[a.selectedPluginIdx]
			return a, a.togglePluginCmd(p.ID, !p.Enabled)
		}
		return a, nil

	case "d":
		if a.selectedPluginIdx < len(a.pluginList) {
			return a, a.uninstallPluginCmd(a.pluginList[a.selectedPluginIdx].ID)
		}
		return a, nil

	case "i":
		a.pluginInstallMode = true
		a.pluginInstallInput.Focus()
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *AppView) refreshPluginsCmd() tea.Cmd {
	return func() tea.Msg {
		plugins, err := a.plugins.List()
		return pluginsLoadedMsg{plugins: plugins, err: err}
	}
}

func (a *AppView) installPluginCmd(url string) tea.Cmd {
	return func() tea.Msg {
		_, err := a.plugins.Install(url)
		return pluginActionMsg{err: err}
	}
}

func (a *AppView) togglePluginCmd(id string, enable bool) tea.Cmd {
	return func() tea.Msg {
		// A load failure is recorded on the plugin itself; only the
		// toggle's own failure surfaces here.
		return pluginActionMsg{err: a.plugins.Toggle(id, enable)}
	}
}

func (a *AppView) uninstallPluginCmd(id string) tea.Cmd {
	return func() tea.Msg {
		return pluginActionMsg{err: a.plugins.Uninstall(id)}
	}
}

func (a *AppView) renderPluginManager() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Plugins"))
	b.WriteString("\n\n")

	if a.pluginInstallMode {
		b.WriteString("Install from URL: ")
		b.WriteString(a.pluginInstallInput.View())
		b.WriteString("\n\n")
		b.WriteString(HelpStyle.Render(FormatFooter("enter", "Install", "esc", "Back")))
		return b.String()
	}

	if len(a.pluginList) == 0 {
		b.WriteString(DimStyle.Render("no plugins installed"))
		b.WriteString("\n")
	}

	for i, p := range a.pluginList {
		state := DimStyle.Render("off")
		if p.Enabled {
			state = UserStyle.Render("on ")
			if !p.Loaded {
				state = ErrorStyle.Render("err")
			}
		}

		line := fmt.Sprintf("  [%s] %s %s", state, p.ID, DimStyle.Render(p.Version))
		if i == a.selectedPluginIdx {
			line = SelectedStyle.Render(">") + line[1:]
		}
		b.WriteString(line)
		b.WriteString("\n")

		if p.LastError != "" {
			b.WriteString(ErrorStyle.Render("      " + truncateLine(p.LastError, a.width-8)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(FormatFooter(
		"j/k", "Navigate",
		"space", "Enable/disable",
		"i", "Install",
		"d", "Uninstall",
		"esc", "Close",
	)))
	return b.String()
}
