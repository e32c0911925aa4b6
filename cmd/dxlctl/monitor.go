package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor IDS",
	Short: "Live view of servo state",
	Long: `Poll position, temperature and motion of a set of servos and show them in
a live table. Press t to toggle torque, p to pause and q to quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 200*time.Millisecond, "Polling interval")
}

// monitorKeyMap defines key bindings for the monitor screen
type monitorKeyMap struct {
	Torque key.Binding
	Pause  key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Torque, k.Pause, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Torque, k.Pause, k.Quit}}
}

var monitorKeys = monitorKeyMap{
	Torque: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "toggle torque")),
	Pause:  key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Messages
type monitorTickMsg time.Time
type pollMsg struct {
	rows []table.Row
	err  error
}
type torqueMsg struct {
	enabled bool
	err     error
}

type monitorModel struct {
	ctx      context.Context
	group    *dynamixel.ServoGroup
	info     string
	interval time.Duration

	table    table.Model
	help     help.Model
	keys     monitorKeyMap
	paused   bool
	torque   bool
	polls    int
	lastErr  error
	quitting bool
}

func newMonitorModel(ctx context.Context, group *dynamixel.ServoGroup, info string, interval time.Duration) monitorModel {
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "MODEL", Width: 16},
		{Title: "POSITION", Width: 10},
		{Title: "TEMP °C", Width: 8},
		{Title: "MOVING", Width: 7},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(len(group.Servos())+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(PrimaryColor).Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	return monitorModel{
		ctx:      ctx,
		group:    group,
		info:     info,
		interval: interval,
		table:    t,
		help:     help.New(),
		keys:     monitorKeys,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.poll()
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// poll reads the group on the bus and turns the result into table rows.
func (m monitorModel) poll() tea.Cmd {
	ctx, group := m.ctx, m.group
	return func() tea.Msg {
		rows, err := pollRows(ctx, group)
		return pollMsg{rows: rows, err: err}
	}
}

func pollRows(ctx context.Context, group *dynamixel.ServoGroup) ([]table.Row, error) {
	positions, err := group.Positions(ctx)
	if err != nil {
		return nil, err
	}
	temps, err := optionalField(ctx, group, "present_temperature")
	if err != nil {
		return nil, err
	}
	moving, err := optionalField(ctx, group, "moving")
	if err != nil {
		return nil, err
	}

	rows := make([]table.Row, 0, len(group.Servos()))
	for _, s := range group.Servos() {
		id := s.ID()
		row := table.Row{strconv.Itoa(id), s.Model().Name, "-", "-", "-"}
		if pos, ok := positions[id]; ok {
			row[2] = strconv.FormatFloat(pos, 'f', 3, 64)
		}
		if t, ok := temps[id]; ok {
			row[3] = strconv.FormatInt(t, 10)
		}
		if mv, ok := moving[id]; ok {
			row[4] = strconv.FormatBool(mv != 0)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// optionalField reads a field that some models lack.
func optionalField(ctx context.Context, group *dynamixel.ServoGroup, name string) (map[int]int64, error) {
	values, err := group.ReadField(ctx, name)
	if errors.Is(err, dynamixel.ErrUnknownField) {
		return nil, nil
	}
	return values, err
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			if !m.paused {
				return m, m.poll()
			}
		case key.Matches(msg, m.keys.Torque):
			enable := !m.torque
			ctx, group := m.ctx, m.group
			return m, func() tea.Msg {
				return torqueMsg{enabled: enable, err: group.SetTorqueEnabled(ctx, enable)}
			}
		}

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case monitorTickMsg:
		if m.paused {
			return m, nil
		}
		return m, m.poll()

	case pollMsg:
		m.polls++
		m.lastErr = msg.err
		if msg.err == nil {
			m.table.SetRows(msg.rows)
		}
		if m.paused {
			return m, nil
		}
		return m, m.tick()

	case torqueMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.torque = msg.enabled
		}
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	state := okStyle.Render("polling")
	if m.paused {
		state = warnStyle.Render("paused")
	}
	torque := mutedStyle.Render("torque off")
	if m.torque {
		torque = warnStyle.Render("torque on")
	}

	status := mutedStyle.Render(fmt.Sprintf("%d polls", m.polls))
	if m.lastErr != nil {
		status = errorStyle.Render(m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("dxlctl monitor"),
		mutedStyle.Render(m.info),
		"",
		boxStyle.Render(m.table.View()),
		fmt.Sprintf("%s  %s  %s", state, torque, status),
		"",
		m.help.View(m.keys),
	)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	servos, err := detectServos(cmd.Context(), s.bus, ids)
	if err != nil {
		return err
	}
	group := dynamixel.NewServoGroup(s.bus, servos...)

	p := tea.NewProgram(
		newMonitorModel(cmd.Context(), group, s.info, monitorInterval),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
