// Package agent implements an off-policy actor-critic learner with target
// networks (DDPG, with the TD3 refinements available as options).
package agent

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/nn"
	"github.com/ezquant/azrl/azrl/tools/log"
)

// Sampler draws training batches, usually a replay buffer.
type Sampler interface {
	Sample(batchSize int) (model.Batch, error)
}

type Config struct {
	StateDim  int
	ActionDim int
	MaxAction float64

	Discount    float64
	Tau         float64
	PolicyNoise float64
	NoiseClip   float64
	PolicyFreq  int
	LearnRate   float64
	Hidden      []int
	Seed        int64

	// DelayedPolicyUpdates updates the actor and both targets only every
	// PolicyFreq calls to Train.
	DelayedPolicyUpdates bool
	// TargetPolicyNoise adds clipped gaussian noise to the target actions.
	// PolicyNoise and NoiseClip are fractions of MaxAction.
	TargetPolicyNoise bool
}

func DefaultConfig(stateDim, actionDim int, maxAction float64) Config {
	return Config{
		StateDim:    stateDim,
		ActionDim:   actionDim,
		MaxAction:   maxAction,
		Discount:    0.95,
		Tau:         0.005,
		PolicyNoise: 0.2,
		NoiseClip:   0.5,
		PolicyFreq:  2,
		LearnRate:   3e-4,
		Hidden:      []int{400, 300},
		Seed:        time.Now().UnixNano(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.StateDim <= 0 || c.ActionDim <= 0:
		return fmt.Errorf("agent: invalid dimensions %d/%d", c.StateDim, c.ActionDim)
	case c.MaxAction <= 0:
		return fmt.Errorf("agent: max action must be positive")
	case c.Tau < 0 || c.Tau > 1:
		return fmt.Errorf("agent: tau %v out of [0, 1]", c.Tau)
	case c.LearnRate <= 0:
		return fmt.Errorf("agent: learn rate must be positive")
	case c.DelayedPolicyUpdates && c.PolicyFreq <= 0:
		return fmt.Errorf("agent: policy freq must be positive")
	}
	return nil
}

// Losses reports one call to Train. Actor is zero when the actor was not
// updated.
type Losses struct {
	Critic       float64
	Actor        float64
	ActorUpdated bool
}

type trainers struct {
	critic *nn.Regression
	actor  *nn.PolicyGradient
}

type TD3 struct {
	config Config

	actor        *nn.MLP
	actorTarget  *nn.MLP
	critic       *nn.MLP
	criticTarget *nn.MLP

	actorOptimizer  *nn.Adam
	criticOptimizer *nn.Adam

	trainers map[int]trainers
	rng      *rand.Rand
	totalIt  int
}

func New(config Config) (*TD3, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed))
	actor, err := nn.NewActor(config.StateDim, config.ActionDim, config.Hidden, config.MaxAction, rng)
	if err != nil {
		return nil, err
	}
	critic, err := nn.NewCritic(config.StateDim, config.ActionDim, config.Hidden, rng)
	if err != nil {
		return nil, err
	}

	return &TD3{
		config:          config,
		actor:           actor,
		actorTarget:     actor.Clone("actor_target"),
		critic:          critic,
		criticTarget:    critic.Clone("critic_target"),
		actorOptimizer:  nn.NewAdam(config.LearnRate),
		criticOptimizer: nn.NewAdam(config.LearnRate),
		trainers:        make(map[int]trainers),
		rng:             rng,
	}, nil
}

// SelectAction evaluates the live actor on one state, without noise.
func (a *TD3) SelectAction(state []float64) ([]float64, error) {
	if err := model.CheckDim("state", state, a.config.StateDim); err != nil {
		return nil, err
	}
	return a.actor.Forward(1, state)
}

func (a *TD3) trainersFor(batchSize int) (trainers, error) {
	if t, ok := a.trainers[batchSize]; ok {
		return t, nil
	}
	critic, err := nn.NewRegression(a.critic, batchSize, a.criticOptimizer)
	if err != nil {
		return trainers{}, err
	}
	actor, err := nn.NewPolicyGradient(a.actor, a.critic, batchSize, a.actorOptimizer)
	if err != nil {
		critic.Close()
		return trainers{}, err
	}
	t := trainers{critic: critic, actor: actor}
	a.trainers[batchSize] = t
	return t, nil
}

// Train runs one update on a batch drawn from sampler.
func (a *TD3) Train(sampler Sampler, batchSize int) (Losses, error) {
	a.totalIt++

	batch, err := sampler.Sample(batchSize)
	if err != nil {
		return Losses{}, err
	}
	t, err := a.trainersFor(batchSize)
	if err != nil {
		return Losses{}, err
	}

	states := model.Flat(batch.States)
	actions := model.Flat(batch.Actions)
	nextStates := model.Flat(batch.NextStates)

	targets, err := a.targetValues(batchSize, nextStates, batch.Rewards, batch.NotDones)
	if err != nil {
		return Losses{}, err
	}

	var losses Losses
	if losses.Critic, err = t.critic.Step(targets, states, actions); err != nil {
		return Losses{}, fmt.Errorf("critic step: %w", err)
	}

	if a.config.DelayedPolicyUpdates && a.totalIt%a.config.PolicyFreq != 0 {
		return losses, nil
	}

	if losses.Actor, err = t.actor.Step(states); err != nil {
		return Losses{}, fmt.Errorf("actor step: %w", err)
	}
	losses.ActorUpdated = true

	if err := a.criticTarget.SoftUpdate(a.critic, a.config.Tau); err != nil {
		return Losses{}, err
	}
	if err := a.actorTarget.SoftUpdate(a.actor, a.config.Tau); err != nil {
		return Losses{}, err
	}
	return losses, nil
}

// targetValues computes reward + notDone * discount * Q'(s', pi'(s')) with
// the target networks. Nothing here is differentiated.
func (a *TD3) targetValues(n int, nextStates, rewards, notDones []float64) ([]float64, error) {
	nextActions, err := a.actorTarget.Forward(n, nextStates)
	if err != nil {
		return nil, err
	}
	if a.config.TargetPolicyNoise {
		limit := a.config.NoiseClip * a.config.MaxAction
		for i := range nextActions {
			noise := lo.Clamp(a.rng.NormFloat64()*a.config.PolicyNoise*a.config.MaxAction, -limit, limit)
			nextActions[i] = lo.Clamp(nextActions[i]+noise, -a.config.MaxAction, a.config.MaxAction)
		}
	}

	q, err := a.criticTarget.Forward(n, nextStates, nextActions)
	if err != nil {
		return nil, err
	}
	targets := make([]float64, n)
	for i := range targets {
		targets[i] = rewards[i] + notDones[i]*a.config.Discount*q[i]
	}
	return targets, nil
}

// TotalIt is the number of calls to Train.
func (a *TD3) TotalIt() int {
	return a.totalIt
}

func (a *TD3) Config() Config {
	return a.config
}

func (a *TD3) files(prefix string) (actor, actorOptimizer, critic, criticOptimizer string) {
	return prefix + "_actor", prefix + "_actor_optimizer", prefix + "_critic", prefix + "_critic_optimizer"
}

// Save writes the live networks and their optimizers next to prefix.
func (a *TD3) Save(prefix string) error {
	actor, actorOptimizer, critic, criticOptimizer := a.files(prefix)
	if err := a.critic.Save(critic); err != nil {
		return err
	}
	if err := a.criticOptimizer.Save(criticOptimizer); err != nil {
		return err
	}
	if err := a.actor.Save(actor); err != nil {
		return err
	}
	if err := a.actorOptimizer.Save(actorOptimizer); err != nil {
		return err
	}
	log.WithField("prefix", prefix).Debug("policy saved")
	return nil
}

// Load restores what Save wrote and resets both targets to the loaded
// networks.
func (a *TD3) Load(prefix string) error {
	actor, actorOptimizer, critic, criticOptimizer := a.files(prefix)
	if err := a.critic.Load(critic); err != nil {
		return err
	}
	if err := a.criticOptimizer.Load(criticOptimizer); err != nil {
		return err
	}
	if err := a.criticTarget.CopyFrom(a.critic); err != nil {
		return err
	}
	if err := a.actor.Load(actor); err != nil {
		return err
	}
	if err := a.actorOptimizer.Load(actorOptimizer); err != nil {
		return err
	}
	if err := a.actorTarget.CopyFrom(a.actor); err != nil {
		return err
	}
	log.WithField("prefix", prefix).Info("policy loaded")
	return nil
}

// Exists reports whether a saved policy is found at prefix.
func Exists(prefix string) bool {
	_, err := os.Stat(prefix + "_actor")
	return err == nil
}

// Close releases the compiled machines.
func (a *TD3) Close() error {
	var errs []error
	for _, t := range a.trainers {
		errs = append(errs, t.critic.Close(), t.actor.Close())
	}
	for _, net := range []*nn.MLP{a.actor, a.actorTarget, a.critic, a.criticTarget} {
		errs = append(errs, net.Close())
	}
	a.trainers = make(map[int]trainers)
	return errors.Join(errs...)
}

// Round clips each action to [-limit, limit] and rounds it to whole shares.
func Round(action []float64, limit float64) []int {
	return lo.Map(action, func(v float64, _ int) int {
		return int(math.Round(lo.Clamp(v, -limit, limit)))
	})
}
