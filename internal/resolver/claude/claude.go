// Package claude resolves combat by asking an Anthropic model to plan each
// round. The model chooses moves and targets; dice and damage are still
// rolled and applied locally, so every roll lands in the combat log.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/config"
	"github.com/cory-johannsen/dmscreen/internal/resolver"
)

const systemPrompt = `You are the dungeon master's assistant running a tabletop combat encounter.
Each message gives you the round number and every combatant as JSON. Plan that round.
Reply with a single JSON object and nothing else:
{"narrative": "<one or two sentences>", "turns": [{"actor": "<instance_id>", "action": "attack" | "flee" | "pass", "target": "<instance_id>", "note": "<short description>"}]}
Only active combatants act. Party members fight foes and foes fight the party.
Do not roll dice or decide hits; the table does that.`

// Resolver is the model-driven bridge.Resolver.
type Resolver struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	maxRounds int
	logger    *zap.Logger
}

// New creates a Resolver from cfg. The API key falls back to the
// ANTHROPIC_API_KEY environment variable when cfg.APIKey is empty.
//
// Precondition: logger must be non-nil; cfg must have passed Validate.
func New(cfg config.ResolverConfig, logger *zap.Logger, opts ...option.RequestOption) *Resolver {
	if cfg.APIKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	}
	maxRounds := cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Resolver{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// plannedTurn is one entry of a round plan.
type plannedTurn struct {
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target"`
	Note   string `json:"note"`
}

type plan struct {
	Narrative string        `json:"narrative"`
	Turns     []plannedTurn `json:"turns"`
}

// session holds the conversation for one resolution.
type session struct {
	r          *Resolver
	history    []anthropic.MessageParam
	round      int
	planned    bool
	turns      map[string]plannedTurn
	narratives []string
}

// Resolve implements bridge.Resolver.
func (r *Resolver) Resolve(ctx context.Context, state bridge.CombatState, roll bridge.DiceRoller, onTurn bridge.TurnUpdateFunc, done bridge.CompletionFunc) {
	s := &session{r: r}
	res, err := resolver.Run(ctx, state, roll, onTurn, r.maxRounds, s.decide)
	if err != nil {
		r.logger.Warn("model resolution failed", zap.Error(err))
		done(nil, err)
		return
	}
	if len(s.narratives) > 0 {
		res.Narrative = strings.Join(s.narratives, " ") + "\n\n" + res.Narrative
	}
	done(res, nil)
}

func (s *session) decide(ctx context.Context, fs []*resolver.Fighter, round int, actor *resolver.Fighter) (resolver.Decision, error) {
	if !s.planned || round != s.round {
		if err := s.planRound(ctx, fs, round); err != nil {
			return resolver.Decision{}, err
		}
	}

	t, ok := s.turns[actor.InstanceID]
	if !ok {
		t, ok = s.turns[strings.ToLower(actor.Name)]
	}
	if !ok {
		return resolver.Attacker(ctx, fs, round, actor)
	}
	switch strings.ToLower(strings.TrimSpace(t.Action)) {
	case "flee":
		return resolver.Decision{Move: resolver.MoveFlee, Note: t.Note}, nil
	case "pass":
		return resolver.Decision{Move: resolver.MovePass, Note: t.Note}, nil
	}
	if target := resolver.Find(fs, t.Target); target != nil && target.Active() && target.Side != actor.Side {
		return resolver.Decision{Move: resolver.MoveAttack, Target: target}, nil
	}
	return resolver.Attacker(ctx, fs, round, actor)
}

// planRound asks the model for the plan of round. A reply that cannot be
// parsed leaves the round unplanned, so every actor falls back to the
// default attack; transport errors end the resolution.
func (s *session) planRound(ctx context.Context, fs []*resolver.Fighter, round int) error {
	s.round, s.planned = round, true
	s.turns = map[string]plannedTurn{}

	prompt, err := roundPrompt(fs, round)
	if err != nil {
		return err
	}
	s.history = append(s.history, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	msg, err := s.r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.r.model,
		MaxTokens: s.r.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  s.history,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("requesting plan for round %d: %w", round, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	reply := text.String()
	s.history = append(s.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))

	p, err := parsePlan(reply)
	if err != nil {
		s.r.logger.Warn("unusable round plan; using default attacks",
			zap.Int("round", round),
			zap.Error(err),
		)
		return nil
	}
	s.r.logger.Debug("round planned", zap.Int("round", round), zap.Int("turns", len(p.Turns)))
	if n := strings.TrimSpace(p.Narrative); n != "" {
		s.narratives = append(s.narratives, n)
	}
	for _, t := range p.Turns {
		key := strings.TrimSpace(t.Actor)
		if key == "" {
			continue
		}
		s.turns[key] = t
		s.turns[strings.ToLower(key)] = t
	}
	return nil
}

type promptCombatant struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Side       string `json:"side"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"max_hp"`
	AC         int    `json:"ac"`
	Status     string `json:"status,omitempty"`
	Attack     string `json:"attack"`
	Active     bool   `json:"active"`
}

func roundPrompt(fs []*resolver.Fighter, round int) (string, error) {
	list := make([]promptCombatant, 0, len(fs))
	for _, f := range fs {
		list = append(list, promptCombatant{
			InstanceID: f.InstanceID,
			Name:       f.Name,
			Side:       f.Side.String(),
			HP:         f.HP,
			MaxHP:      f.MaxHP,
			AC:         f.AC,
			Status:     f.Status,
			Attack:     fmt.Sprintf("%s (%+d, %s)", f.AttackName, f.AttackBonus, f.Damage),
			Active:     f.Active(),
		})
	}
	data, err := json.Marshal(map[string]any{"round": round, "combatants": list})
	if err != nil {
		return "", fmt.Errorf("encoding round prompt: %w", err)
	}
	return string(data), nil
}

// errNoJSON is returned when a reply holds no JSON object.
var errNoJSON = errors.New("reply contains no JSON object")

// parsePlan decodes the outermost JSON object in reply, ignoring any prose
// or code fences around it.
func parsePlan(reply string) (plan, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return plan{}, errNoJSON
	}
	var p plan
	if err := json.Unmarshal([]byte(reply[start:end+1]), &p); err != nil {
		return plan{}, fmt.Errorf("decoding plan: %w", err)
	}
	return p, nil
}
