// Package command defines the operator commands accepted over MQTT and
// HTTP and applies them to a controller.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// Kind names a command. It is also the last segment of the MQTT command
// topic.
type Kind string

const (
	KindOverride     Kind = "override"
	KindOutput       Kind = "output"
	KindDefrost      Kind = "defrost"
	KindClearRVFail  Kind = "clear-rvfail"
	KindClearLPS     Kind = "clear-lps"
	KindResetRuntime Kind = "reset-runtime"
)

// ErrUnknownKind is returned by Parse for an unrecognised command.
var ErrUnknownKind = errors.New("unknown command")

// Command is one operator request.
type Command struct {
	Kind   Kind   `json:"kind"`
	Output string `json:"output,omitempty"`
	On     bool   `json:"on"`
}

// Submitter hands a command to the goroutine that owns the controller and
// returns its result.
type Submitter interface {
	Submit(Command) error
}

// Parse builds a command from a kind and a payload. Override accepts
// "on"/"off", "true"/"false" or {"on":bool}; output requires
// {"output":"W","on":true}. Other kinds ignore the payload.
func Parse(kind string, payload []byte) (Command, error) {
	cmd := Command{Kind: Kind(kind)}
	switch cmd.Kind {
	case KindOverride:
		on, err := parseBool(payload)
		if err != nil {
			return Command{}, fmt.Errorf("override: %w", err)
		}
		cmd.On = on
	case KindOutput:
		var body struct {
			Output string `json:"output"`
			On     *bool  `json:"on"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return Command{}, fmt.Errorf("output: %w", err)
		}
		if body.Output == "" || body.On == nil {
			return Command{}, errors.New(`output: need {"output":name,"on":bool}`)
		}
		cmd.Output = strings.ToUpper(body.Output)
		cmd.On = *body.On
	case KindDefrost, KindClearRVFail, KindClearLPS, KindResetRuntime:
	default:
		return Command{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return cmd, nil
}

func parseBool(payload []byte) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	var body struct {
		On *bool `json:"on"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.On == nil {
		return false, fmt.Errorf("cannot parse %q as on/off", s)
	}
	return *body.On, nil
}

// Apply runs the command against the controller. It must be called from
// the goroutine that owns c.
func (cmd Command) Apply(c *control.Controller) error {
	switch cmd.Kind {
	case KindOverride:
		c.SetManualOverride(cmd.On)
		return nil
	case KindOutput:
		return c.SetManualOutput(cmd.Output, cmd.On)
	case KindDefrost:
		return c.ForceDefrost()
	case KindClearRVFail:
		c.ClearRVFail()
		return nil
	case KindClearLPS:
		return c.ClearLPSFault()
	case KindResetRuntime:
		c.ResetHeatRuntime()
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownKind, cmd.Kind)
}
