package reflex

import (
	"context"
	"fmt"
)

// StatusProbe supplies the one-line health summary for the status
// reflex. Wired at boot from live subsystems.
type StatusProbe func() string

// builtinMinConfidence is each stock action's own tolerance. It sits
// below the gate's normal bar so the gate can lower that bar under
// resource pressure and the actions still accept the match.
const builtinMinConfidence = 0.7

// RegisterBuiltins installs the engine's stock fast-path handlers and
// their trigger vocabulary. probe may be nil, in which case the status
// reflex reports a bare heartbeat.
func RegisterBuiltins(reg *Registry, index *PatternIndex, probe StatusProbe) error {
	builtins := []struct {
		action   Action
		triggers []string
	}{
		{
			action: Action{
				Name:          "status_report",
				Kind:          KindBuiltin,
				MinConfidence: builtinMinConfidence,
				Handler:       statusHandler(probe),
			},
			triggers: []string{"status", "health", "uptime", "alive"},
		},
		{
			action: Action{
				Name:          "greeting",
				Kind:          KindBuiltin,
				MinConfidence: builtinMinConfidence,
				Handler:       replyHandler("안녕하세요. I am awake and evolving."),
			},
			triggers: []string{"hello", "hi", "hey", "안녕"},
		},
		{
			action: Action{
				Name:          "gratitude_ack",
				Kind:          KindBuiltin,
				MinConfidence: builtinMinConfidence,
				Handler:       replyHandler("Noted. Back to work."),
			},
			triggers: []string{"thanks", "thank", "고마워"},
		},
	}

	for _, b := range builtins {
		if err := reg.Register(b.action); err != nil {
			return err
		}
		index.AddTrigger(b.action.Name, b.triggers...)
	}
	index.AddAlias("ping", "alive")
	index.AddAlias("healthy", "health")
	return nil
}

func statusHandler(probe StatusProbe) Handler {
	return func(ctx context.Context, in Input) (string, bool, error) {
		if probe == nil {
			return "engine alive", true, nil
		}
		line := probe()
		if line == "" {
			return "engine alive", true, nil
		}
		return fmt.Sprintf("⚡ %s", line), true, nil
	}
}

func replyHandler(reply string) Handler {
	return func(ctx context.Context, in Input) (string, bool, error) {
		return reply, true, nil
	}
}
