// Package ui is the command→core-operation contract spec.md §4.11
// describes. It performs no terminal rendering: each Dispatcher method
// runs one core effect and returns whatever state the caller needs to
// redraw, matching the command table (`/new`, `/agent`, `/model`,
// `/provider`, `/compact`, `/dump`, `/retry`, `/tools`, `/usage`, `/exit`,
// plain text).
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	coreagent "github.com/sternelee/forge-agent"
	"github.com/sternelee/forge-agent/chat"
)

// DumpFormat selects the serialization Dispatcher.Dump writes.
type DumpFormat string

const (
	DumpJSON DumpFormat = "json"
	DumpHTML DumpFormat = "html"
)

// AgentSpec names an operating agent persona and the system prompt it runs
// with. The built-in persona names spec.md's command table mentions
// (forge, muse, sage) are ordinary entries a caller registers; the core
// only needs a prompt per agent ID, not the personas' content.
type AgentSpec struct {
	ID           string
	SystemPrompt string
}

// ProviderFactory builds a fresh chat.Client for (providerID, modelID),
// wrapping llm.NewClient (or a test double).
type ProviderFactory func(providerID, modelID string) (chat.Client, error)

// SessionFactory creates a Session against client, matching
// coreagent.NewSession's signature so it can be passed directly.
type SessionFactory func(client chat.Client, systemPrompt string, opts ...coreagent.SessionOption) (coreagent.Session, error)

// Dispatcher is the command→core-operation contract. No method renders
// anything; callers own presentation.
type Dispatcher interface {
	// NewSession replaces the provider client, re-initializes session
	// state, and starts a fresh conversation id, discarding history.
	NewSession(ctx context.Context) error
	// SetAgent switches the operating agent, preserving conversation
	// history under the new agent's system prompt.
	SetAgent(agentID string) error
	// SetModel switches the operating model within the current provider,
	// preserving conversation history.
	SetModel(modelID string) error
	// SetProvider switches provider (and, typically, model alongside it),
	// preserving conversation history. Resolving whether modelID is valid
	// for the new provider, and prompting for a replacement if not, is the
	// caller's job — SetProvider just applies whatever pair it is given.
	SetProvider(providerID, modelID string) error
	// Compact invokes compaction on the current conversation.
	Compact() error
	// Dump serializes the current conversation to a timestamped file under
	// dir and returns its path.
	Dump(format DumpFormat, dir string) (path string, err error)
	// Retry re-sends the last user turn with no new content.
	Retry(ctx context.Context) (chat.Message, error)
	// ListTools enumerates tools available to the operating agent.
	ListTools() []string
	// Usage returns aggregate and per-conversation usage for the session.
	Usage() coreagent.SessionMetrics
	// SendText dispatches a user-role turn against the operating agent.
	SendText(ctx context.Context, text string) (chat.Message, error)
	// Cancel cancels the in-flight turn's context, if any, without
	// terminating the dispatcher.
	Cancel()
	// Exit releases any resources the dispatcher owns. It does not
	// terminate the outer command loop; that remains the caller's call.
	Exit() error
}

// CoreDispatcher is the concrete Dispatcher backing a single REPL-style
// command loop.
type CoreDispatcher struct {
	mu sync.Mutex

	session coreagent.Session

	agents  map[string]AgentSpec
	agentID string

	newClient ProviderFactory
	newSess   SessionFactory

	providerID string
	modelID    string

	lastUserText string

	cancel context.CancelFunc
}

// DispatcherOption configures a CoreDispatcher at construction time.
type DispatcherOption func(*CoreDispatcher)

// WithSessionFactory overrides the function used to create sessions,
// primarily for tests that want a fake chat.Client wired through
// coreagent.NewSession-compatible plumbing.
func WithSessionFactory(f SessionFactory) DispatcherOption {
	return func(d *CoreDispatcher) { d.newSess = f }
}

// NewCoreDispatcher builds a Dispatcher for providerID/modelID, seeding the
// first session under agentID's system prompt.
func NewCoreDispatcher(agents []AgentSpec, agentID, providerID, modelID string, newClient ProviderFactory, opts ...DispatcherOption) (*CoreDispatcher, error) {
	d := &CoreDispatcher{
		agents:     make(map[string]AgentSpec, len(agents)),
		agentID:    agentID,
		providerID: providerID,
		modelID:    modelID,
		newClient:  newClient,
		newSess:    coreagent.NewSession,
	}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	for _, opt := range opts {
		opt(d)
	}

	spec, ok := d.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentID)
	}
	client, err := d.newClient(providerID, modelID)
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	sess, err := d.newSess(client, spec.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	d.session = sess
	return d, nil
}

func (d *CoreDispatcher) currentSystemPrompt() string {
	return d.agents[d.agentID].SystemPrompt
}

// rebuild swaps the underlying client and session, optionally carrying the
// prior conversation's history forward.
func (d *CoreDispatcher) rebuild(preserveHistory bool) error {
	client, err := d.newClient(d.providerID, d.modelID)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}

	var opts []coreagent.SessionOption
	if preserveHistory && d.session != nil {
		if _, msgs := d.session.History(); len(msgs) > 0 {
			opts = append(opts, coreagent.WithInitialMessages(msgs...))
		}
	}

	sess, err := d.newSess(client, d.currentSystemPrompt(), opts...)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.session = sess
	return nil
}

func (d *CoreDispatcher) NewSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUserText = ""
	return d.rebuild(false)
}

func (d *CoreDispatcher) SetAgent(agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[agentID]; !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	d.agentID = agentID
	return d.rebuild(true)
}

func (d *CoreDispatcher) SetModel(modelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modelID = modelID
	return d.rebuild(true)
}

func (d *CoreDispatcher) SetProvider(providerID, modelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providerID = providerID
	d.modelID = modelID
	return d.rebuild(true)
}

func (d *CoreDispatcher) Compact() error {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()
	return sess.CompactNow()
}

func (d *CoreDispatcher) Dump(format DumpFormat, dir string) (string, error) {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()

	records := sess.TotalRecords()
	name := fmt.Sprintf("%d-dump.%s", time.Now().Unix(), format)
	path := filepath.Join(dir, name)

	switch format {
	case DumpHTML:
		if err := writeHTMLDump(path, records); err != nil {
			return "", err
		}
	default:
		if err := writeJSONDump(path, records); err != nil {
			return "", err
		}
	}
	return path, nil
}

func writeJSONDump(path string, records []coreagent.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

var dumpHTMLTemplate = template.Must(template.New("dump").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation dump</title></head>
<body>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>#</th><th>Role</th><th>Status</th><th>Content</th><th>Tokens in</th><th>Tokens out</th></tr>
{{range .}}<tr><td>{{.ID}}</td><td>{{.Role}}</td><td>{{.Status}}</td><td>{{.Content}}</td><td>{{.InputTokens}}</td><td>{{.OutputTokens}}</td></tr>
{{end}}</table>
</body></html>
`))

func writeHTMLDump(path string, records []coreagent.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer f.Close()
	if err := dumpHTMLTemplate.Execute(f, records); err != nil {
		return fmt.Errorf("render dump: %w", err)
	}
	return nil
}

func (d *CoreDispatcher) Retry(ctx context.Context) (chat.Message, error) {
	d.mu.Lock()
	sess := d.session
	text := d.lastUserText
	d.mu.Unlock()

	if text == "" {
		return chat.Message{}, fmt.Errorf("no previous turn to retry")
	}
	return sess.Message(ctx, chat.UserMessage(text))
}

func (d *CoreDispatcher) ListTools() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.ListTools()
}

func (d *CoreDispatcher) Usage() coreagent.SessionMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Metrics()
}

func (d *CoreDispatcher) SendText(ctx context.Context, text string) (chat.Message, error) {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.lastUserText = text
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
	}()

	return sess.Message(turnCtx, chat.UserMessage(text))
}

func (d *CoreDispatcher) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *CoreDispatcher) Exit() error {
	d.Cancel()
	return nil
}
