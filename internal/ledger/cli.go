package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/types"
)

// Artifact names used for mirrored state payloads.
const (
	artFeatureState = "feature-state"
	artPlanApproval = "plan-approval"
	artApprovedPlan = "approved-plan"
	artPlanComments = "plan-comments"
	artTaskPrefix   = "task-state/"
)

// CLIGateway reaches the ledger by spawning its command-line tool and
// parsing JSON from stdout. Every invocation carries a hard timeout; a
// timed-out call is reported as transient with an unknown outcome.
type CLIGateway struct {
	bin     string
	dir     string
	timeout time.Duration
}

// NewCLI builds a gateway around the given binary, run from dir.
func NewCLI(bin, dir string, timeout time.Duration) *CLIGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIGateway{bin: bin, dir: dir, timeout: timeout}
}

// initMarkers in tool stderr indicate the backend itself is unusable,
// as opposed to one failed call.
var initMarkers = []string{
	"not initialized",
	"no database",
	"not in a beads workspace",
	"no beads repository",
	"unknown command",
}

func (g *CLIGateway) run(ctx context.Context, op string, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args = append(args, "--json")
	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Dir = g.dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Logf("ledger: %s %s\n", g.bin, strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	errText := strings.ToLower(stderr.String())
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return nil, &CallError{Op: op, Init: true,
			Err: fmt.Errorf("ledger tool %q not found: %w", g.bin, err)}
	case ctx.Err() == context.DeadlineExceeded:
		return nil, &CallError{Op: op, TimedOut: true,
			Err: fmt.Errorf("timed out after %s (outcome unknown)", g.timeout)}
	case strings.Contains(errText, "not found"):
		return nil, &CallError{Op: op, Err: ErrNotFound}
	default:
		for _, marker := range initMarkers {
			if strings.Contains(errText, marker) {
				return nil, &CallError{Op: op, Init: true,
					Err: fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))}
			}
		}
		return nil, &CallError{Op: op,
			Err: fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))}
	}
}

func (g *CLIGateway) GetEpicByName(ctx context.Context, name string) (*Epic, error) {
	out, err := g.run(ctx, "epic-list", nil, "list", "--type", "epic")
	if err != nil {
		return nil, err
	}
	var epics []Epic
	if err := json.Unmarshal(out, &epics); err != nil {
		return nil, &CallError{Op: "epic-list", Err: fmt.Errorf("malformed response: %w", err)}
	}
	for i := range epics {
		if epics[i].Name == name {
			return &epics[i], nil
		}
	}
	return nil, nil
}

func (g *CLIGateway) CreateEpic(ctx context.Context, name, summary string) (*Epic, error) {
	out, err := g.run(ctx, "epic-create", nil,
		"create", "--type", "epic", "--title", name, "--description", summary)
	if err != nil {
		return nil, err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &created); err != nil || created.ID == "" {
		return nil, &CallError{Op: "epic-create", Err: fmt.Errorf("malformed response: %s", out)}
	}
	return &Epic{ID: created.ID, Name: name}, nil
}

func (g *CLIGateway) CreateTask(ctx context.Context, epicID string, task types.Task) (string, error) {
	out, err := g.run(ctx, "task-create", nil,
		"create", "--type", "task", "--title", task.Folder,
		"--description", task.Summary, "--parent", epicID)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &created); err != nil || created.ID == "" {
		return "", &CallError{Op: "task-create", Err: fmt.Errorf("malformed response: %s", out)}
	}
	return created.ID, nil
}

func (g *CLIGateway) UpsertArtifact(ctx context.Context, epicID, name string, payload []byte) error {
	_, err := g.run(ctx, "artifact-put", payload,
		"artifact", "put", epicID, name, "--stdin")
	return err
}

// ReadArtifact returns the raw payload, or (nil, nil) when the ledger has
// no such artifact.
func (g *CLIGateway) ReadArtifact(ctx context.Context, epicID, name string) ([]byte, error) {
	out, err := g.run(ctx, "artifact-get", nil, "artifact", "get", epicID, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (g *CLIGateway) GetFeatureState(ctx context.Context, epicID string) (*artifact.FeatureState, error) {
	raw, err := g.ReadArtifact(ctx, epicID, artFeatureState)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeFeatureState(raw), nil
}

func (g *CLIGateway) SetFeatureState(ctx context.Context, epicID string, state artifact.FeatureState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return &CallError{Op: "feature-state-put", Err: err}
	}
	return g.UpsertArtifact(ctx, epicID, artFeatureState, payload)
}

func (g *CLIGateway) GetTaskState(ctx context.Context, epicID, folder string) (*artifact.TaskState, error) {
	raw, err := g.ReadArtifact(ctx, epicID, artTaskPrefix+folder)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeTaskState(raw), nil
}

func (g *CLIGateway) SetTaskState(ctx context.Context, epicID string, state artifact.TaskState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return &CallError{Op: "task-state-put", Err: err}
	}
	return g.UpsertArtifact(ctx, epicID, artTaskPrefix+state.Folder, payload)
}

func (g *CLIGateway) GetPlanApproval(ctx context.Context, epicID string) (*artifact.PlanApproval, error) {
	raw, err := g.ReadArtifact(ctx, epicID, artPlanApproval)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodePlanApproval(raw), nil
}

// SetPlanApproval with a nil approval clears the record (revocation).
func (g *CLIGateway) SetPlanApproval(ctx context.Context, epicID string, approval *artifact.PlanApproval) error {
	payload := []byte("null")
	if approval != nil {
		var err error
		payload, err = json.Marshal(approval)
		if err != nil {
			return &CallError{Op: "approval-put", Err: err}
		}
	}
	return g.UpsertArtifact(ctx, epicID, artPlanApproval, payload)
}

func (g *CLIGateway) GetApprovedPlan(ctx context.Context, epicID string) (*artifact.ApprovedPlan, error) {
	raw, err := g.ReadArtifact(ctx, epicID, artApprovedPlan)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeApprovedPlan(raw), nil
}

func (g *CLIGateway) SetApprovedPlan(ctx context.Context, epicID string, plan *artifact.ApprovedPlan) error {
	payload := []byte("null")
	if plan != nil {
		var err error
		payload, err = json.Marshal(plan)
		if err != nil {
			return &CallError{Op: "approved-plan-put", Err: err}
		}
	}
	return g.UpsertArtifact(ctx, epicID, artApprovedPlan, payload)
}

func (g *CLIGateway) GetPlanComments(ctx context.Context, epicID string) (*artifact.PlanComments, error) {
	raw, err := g.ReadArtifact(ctx, epicID, artPlanComments)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodePlanComments(raw), nil
}

func (g *CLIGateway) SetPlanComments(ctx context.Context, epicID string, comments artifact.PlanComments) error {
	payload, err := json.Marshal(comments)
	if err != nil {
		return &CallError{Op: "comments-put", Err: err}
	}
	return g.UpsertArtifact(ctx, epicID, artPlanComments, payload)
}

func (g *CLIGateway) ListTasksForEpic(ctx context.Context, epicID string) ([]*artifact.TaskState, error) {
	out, err := g.run(ctx, "artifact-list", nil,
		"artifact", "list", epicID, "--prefix", artTaskPrefix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entries []struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, &CallError{Op: "artifact-list", Err: fmt.Errorf("malformed response: %w", err)}
	}
	var tasks []*artifact.TaskState
	for _, e := range entries {
		if t := artifact.DecodeTaskState(e.Payload); t != nil {
			tasks = append(tasks, t)
		} else {
			debug.Warnf("ledger: dropping undecodable task artifact %s\n", e.Name)
		}
	}
	return tasks, nil
}

func (g *CLIGateway) CloseBead(ctx context.Context, beadID, reason string) error {
	_, err := g.run(ctx, "close", nil, "close", beadID, "--reason", reason)
	return err
}

func (g *CLIGateway) FlushArtifacts(ctx context.Context) error {
	_, err := g.run(ctx, "artifact-flush", nil, "artifact", "flush")
	return err
}

func (g *CLIGateway) ImportArtifacts(ctx context.Context) error {
	_, err := g.run(ctx, "artifact-import", nil, "artifact", "import")
	return err
}

var _ Gateway = (*CLIGateway)(nil)
