package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicecore/internal/classifier"
	"voicecore/internal/logger"
	"voicecore/internal/tools"
	"voicecore/pkg"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrNoFavorite    = errors.New("no such favorite")
)

// Execution is one completed command kept in the bounded history.
type Execution struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Command        pkg.Command     `json:"command"`
	Result         *pkg.ToolResult `json:"result,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// Config bounds the history buffer and the undo stack.
type Config struct {
	MaxRecords int
	MaxUndo    int
}

func (c *Config) withDefaults() {
	if c.MaxRecords == 0 {
		c.MaxRecords = 1000
	}
	if c.MaxUndo == 0 {
		c.MaxUndo = 50
	}
}

// Manager tracks executed commands and drives undo and redo through the
// tool registry. The undo and redo stacks are disjoint: an execution lives
// on exactly one of them at a time.
type Manager struct {
	cfg      Config
	registry *tools.Registry

	mu        sync.Mutex
	records   []*Execution
	undo      []*Execution
	redo      []*Execution
	favorites map[string]pkg.Command
}

func NewManager(cfg Config, registry *tools.Registry) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		favorites: make(map[string]pkg.Command),
	}
}

// Record appends an execution and makes it the undo candidate. Any pending
// redo entries are invalidated: redo only replays the undone timeline.
func (m *Manager) Record(conversationID string, cmd pkg.Command, result *pkg.ToolResult) *Execution {
	exec := &Execution{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Command:        cmd,
		Result:         result,
		ExecutedAt:     time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(exec)
	m.pushUndoLocked(exec)
	m.redo = m.redo[:0]
	return exec
}

// Undo reverses the most recent undoable execution. Commands without an
// undo handler fail explicitly and stay off the redo stack.
func (m *Manager) Undo(ctx context.Context) (*pkg.ToolResult, error) {
	m.mu.Lock()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	exec := m.undo[len(m.undo)-1]
	m.mu.Unlock()

	if ok, msg := classifier.Undoable(classifier.Intent(exec.Command.Intent)); !ok {
		// Leave the entry on the stack so the user sees what blocked.
		return &pkg.ToolResult{Success: false, Message: msg}, nil
	}

	req := &pkg.ToolRequest{
		ToolID:         exec.Command.ToolID,
		Intent:         exec.Command.Intent,
		ConversationID: exec.ConversationID,
		Parameters:     exec.Command.Parameters.Clone(),
	}
	res, err := m.registry.Undo(ctx, req)
	if err != nil {
		if errors.Is(err, tools.ErrUndoNotSupported) {
			return &pkg.ToolResult{
				Success: false,
				Message: fmt.Sprintf("The %s action cannot be undone.", exec.Command.Intent),
			}, nil
		}
		return nil, err
	}

	m.mu.Lock()
	// Move to redo only after the reversal actually ran.
	if n := len(m.undo); n > 0 && m.undo[n-1] == exec {
		m.undo = m.undo[:n-1]
		m.redo = append(m.redo, exec)
	}
	m.mu.Unlock()

	logger.Info().Str("intent", exec.Command.Intent).Msg("command undone")
	if res.Message == "" {
		res.Message = fmt.Sprintf("Undid %s.", exec.Command.Intent)
	}
	return res, nil
}

// Redo re-executes the most recently undone command and returns it to the
// undo stack. Remaining redo entries are preserved.
func (m *Manager) Redo(ctx context.Context) (*pkg.ToolResult, error) {
	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	exec := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	req := &pkg.ToolRequest{
		ToolID:         exec.Command.ToolID,
		Intent:         exec.Command.Intent,
		ConversationID: exec.ConversationID,
		Parameters:     exec.Command.Parameters.Clone(),
	}
	res, err := m.registry.Execute(ctx, req)
	if err != nil {
		m.mu.Lock()
		m.redo = append(m.redo, exec)
		m.mu.Unlock()
		return nil, err
	}

	replay := &Execution{
		ID:             uuid.NewString(),
		ConversationID: exec.ConversationID,
		Command:        exec.Command,
		Result:         res,
		ExecutedAt:     time.Now(),
	}
	m.mu.Lock()
	m.appendLocked(replay)
	m.pushUndoLocked(replay)
	m.mu.Unlock()

	logger.Info().Str("intent", exec.Command.Intent).Msg("command redone")
	return res, nil
}

// Last returns the most recent execution, for "repeat that".
func (m *Manager) Last() (*Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil, false
	}
	return m.records[len(m.records)-1], true
}

// Recent returns up to n executions, newest first.
func (m *Manager) Recent(n int) []*Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.records) {
		n = len(m.records)
	}
	out := make([]*Execution, 0, n)
	for i := len(m.records) - 1; i >= len(m.records)-n; i-- {
		out = append(out, m.records[i])
	}
	return out
}

// Depths reports the current stack sizes.
func (m *Manager) Depths() (history, undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), len(m.undo), len(m.redo)
}

// SaveFavorite stores a command under a user-chosen name.
func (m *Manager) SaveFavorite(name string, cmd pkg.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favorites[name] = cmd
}

// Favorite looks up a saved command by name.
func (m *Manager) Favorite(name string) (pkg.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.favorites[name]
	if !ok {
		return pkg.Command{}, ErrNoFavorite
	}
	return cmd, nil
}

// Favorites lists the saved command names.
func (m *Manager) Favorites() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.favorites))
	for name := range m.favorites {
		out = append(out, name)
	}
	return out
}

func (m *Manager) appendLocked(exec *Execution) {
	m.records = append(m.records, exec)
	if len(m.records) > m.cfg.MaxRecords {
		m.records = m.records[len(m.records)-m.cfg.MaxRecords:]
	}
}

func (m *Manager) pushUndoLocked(exec *Execution) {
	m.undo = append(m.undo, exec)
	if len(m.undo) > m.cfg.MaxUndo {
		m.undo = m.undo[len(m.undo)-m.cfg.MaxUndo:]
	}
}
