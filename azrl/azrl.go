package azrl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"github.com/ezquant/azrl/azrl/agent"
	"github.com/ezquant/azrl/azrl/environment"
	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/plus/localkv"
	"github.com/ezquant/azrl/azrl/replay"
	"github.com/ezquant/azrl/azrl/report"
	"github.com/ezquant/azrl/azrl/service"
	"github.com/ezquant/azrl/azrl/storage"
	"github.com/ezquant/azrl/azrl/tools"
	"github.com/ezquant/azrl/azrl/tools/log"
)

const defaultDatabase = "azrl.db"

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04",
	})
}

type EpisodeSubscriber interface {
	OnEpisode(storage.Episode)
}

// Params control the training loop.
type Params struct {
	Timesteps        int
	StartTimesteps   int
	BatchSize        int
	MaxLimit         int
	ExplorationNoise float64
	BufferCapacity   int
	Seed             int64

	// CheckpointEvery saves the policy every n timesteps, zero disables.
	CheckpointEvery int
	// CheckpointInterval saves the policy when this much time passed since
	// the last time based save, zero disables.
	CheckpointInterval time.Duration
	// SaveBuffer writes the replay buffer next to the policy after Run.
	SaveBuffer bool
	// DescribeEvery refreshes the progress description every n timesteps.
	DescribeEvery int
}

func DefaultParams() Params {
	return Params{
		Timesteps:        50000,
		StartTimesteps:   2500,
		BatchSize:        128,
		MaxLimit:         environment.MaxLimit,
		ExplorationNoise: 0.1,
		BufferCapacity:   replay.DefaultCapacity,
		Seed:             time.Now().UnixNano(),
		DescribeEvery:    50,
	}
}

type Trainer struct {
	settings model.Settings
	feed     service.PriceFeed
	calendar service.Calendar
	params   Params

	storage     *storage.SQL
	checkpoints *localkv.LocalKV
	notifier    service.Notifier
	progress    io.Writer
	testOutput  string

	episodeSubscribers []EpisodeSubscriber
	agentOptions       []func(*agent.Config)
	envOptions         []environment.Option

	agent  *agent.TD3
	buffer *replay.Buffer
	rng    *rand.Rand
	runID  string

	episodes []storage.Episode
	results  report.Rows
}

type Option func(*Trainer)

func NewTrainer(settings model.Settings, feed service.PriceFeed, calendar service.Calendar,
	options ...Option) (*Trainer, error) {

	if len(settings.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if settings.SaveLocation == "" {
		return nil, fmt.Errorf("save location is required")
	}

	trainer := &Trainer{
		settings: settings,
		feed:     feed,
		calendar: calendar,
		params:   DefaultParams(),
		progress: os.Stderr,
	}

	for _, option := range options {
		option(trainer)
	}

	if trainer.params.BatchSize <= 0 || trainer.params.MaxLimit <= 0 || trainer.params.BufferCapacity <= 0 {
		return nil, fmt.Errorf("batch size, max limit and buffer capacity must be positive")
	}

	var err error
	if trainer.storage == nil {
		trainer.storage, err = storage.FromFile(defaultDatabase)
		if err != nil {
			return nil, err
		}
	}
	trainer.rng = rand.New(rand.NewSource(trainer.params.Seed))

	return trainer, nil
}

// WithParams replaces the training loop parameters.
func WithParams(params Params) Option {
	return func(t *Trainer) {
		t.params = params
	}
}

// WithStorage sets where episodes and test values are recorded, by default a
// local file called azrl.db
func WithStorage(storage *storage.SQL) Option {
	return func(t *Trainer) {
		t.storage = storage
	}
}

// WithCheckpoints records every saved policy in a checkpoint index.
func WithCheckpoints(kv *localkv.LocalKV) Option {
	return func(t *Trainer) {
		t.checkpoints = kv
	}
}

// WithLogLevel sets the log level. eg: log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel, log.FatalLevel
func WithLogLevel(level log.Level) Option {
	return func(t *Trainer) {
		log.SetLevel(level)
	}
}

// WithNotifier registers a notifier for run summaries and failures.
func WithNotifier(notifier service.Notifier) Option {
	return func(t *Trainer) {
		t.notifier = notifier
	}
}

func WithEpisodeSubscription(subscriber EpisodeSubscriber) Option {
	return func(t *Trainer) {
		t.episodeSubscribers = append(t.episodeSubscribers, subscriber)
	}
}

// WithProgressWriter sets where the progress bar is drawn, stderr by default.
func WithProgressWriter(w io.Writer) Option {
	return func(t *Trainer) {
		t.progress = w
	}
}

// WithAgentConfig adjusts the agent hyper-parameters before it is built.
func WithAgentConfig(fn func(*agent.Config)) Option {
	return func(t *Trainer) {
		t.agentOptions = append(t.agentOptions, fn)
	}
}

func WithEnvironmentOptions(options ...environment.Option) Option {
	return func(t *Trainer) {
		t.envOptions = append(t.envOptions, options...)
	}
}

// WithTestOutput sets the CSV file Test writes, none when empty.
func WithTestOutput(path string) Option {
	return func(t *Trainer) {
		t.testOutput = path
	}
}

// WithAgent reuses a trained agent instead of building or loading one.
func WithAgent(a *agent.TD3) Option {
	return func(t *Trainer) {
		t.agent = a
	}
}

// WithBuffer reuses the experience of an earlier run.
func WithBuffer(buffer *replay.Buffer) Option {
	return func(t *Trainer) {
		t.buffer = buffer
	}
}

func (t *Trainer) newEnvironment(settings model.Settings) (*environment.Env, error) {
	options := append([]environment.Option{
		environment.WithRandomStart(settings.RandomStart),
		environment.WithSeed(t.rng.Int63()),
	}, t.envOptions...)
	return environment.New(t.feed, t.calendar, settings.Symbols, settings.StartDate, settings.EndDate, options...)
}

// prepare builds the agent and the buffer for env, loading a saved policy and
// buffer when they exist.
func (t *Trainer) prepare(env *environment.Env) error {
	prefix := t.settings.SaveLocation

	if t.agent == nil {
		config := agent.DefaultConfig(env.StateDim(), env.ActionDim(), float64(t.params.MaxLimit))
		config.Seed = t.rng.Int63()
		for _, fn := range t.agentOptions {
			fn(&config)
		}
		a, err := agent.New(config)
		if err != nil {
			return err
		}
		if agent.Exists(prefix) {
			if err := a.Load(prefix); err != nil {
				a.Close()
				return err
			}
		}
		t.agent = a
	}

	if t.buffer == nil {
		if _, err := os.Stat(bufferFile(prefix)); err == nil {
			buffer, err := replay.Load(bufferFile(prefix), replay.WithRand(rand.New(rand.NewSource(t.rng.Int63()))))
			if err != nil {
				return err
			}
			if buffer.StateDim() == env.StateDim() && buffer.ActionDim() == env.ActionDim() {
				log.WithField("transitions", buffer.Len()).Info("replay buffer loaded")
				t.buffer = buffer
			}
		}
	}
	if t.buffer == nil {
		t.buffer = replay.New(env.StateDim(), env.ActionDim(), t.params.BufferCapacity,
			replay.WithRand(rand.New(rand.NewSource(t.rng.Int63()))))
	}

	if t.buffer.StateDim() != env.StateDim() || t.buffer.ActionDim() != env.ActionDim() {
		return fmt.Errorf("replay buffer holds %d/%d dims, environment needs %d/%d: %w",
			t.buffer.StateDim(), t.buffer.ActionDim(), env.StateDim(), env.ActionDim(), model.ErrDimensionMismatch)
	}
	return nil
}

func bufferFile(prefix string) string {
	return prefix + "_buffer"
}

// explore returns a uniformly random action.
func (t *Trainer) explore(actionDim int) []int {
	return lo.Times(actionDim, func(_ int) int {
		return t.rng.Intn(2*t.params.MaxLimit+1) - t.params.MaxLimit
	})
}

// act returns the policy action with gaussian exploration noise, clipped to
// the share limit and rounded to whole shares.
func (t *Trainer) act(state []float64) ([]int, error) {
	action, err := t.agent.SelectAction(state)
	if err != nil {
		return nil, err
	}
	std := float64(t.params.MaxLimit) * t.params.ExplorationNoise
	for i := range action {
		action[i] += t.rng.NormFloat64() * std
	}
	return agent.Round(action, float64(t.params.MaxLimit)), nil
}

func float64s(action []int) []float64 {
	return lo.Map(action, func(v int, _ int) float64 {
		return float64(v)
	})
}

func (t *Trainer) newProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(t.progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func (t *Trainer) describe(bar *progressbar.ProgressBar, env *environment.Env, reward float64, action []int) {
	date, _ := env.DateAndTime()
	bar.Describe(fmt.Sprintf("Date: %s | Reward: %.2f | Action: %v | Holdings: %v",
		date.Format("2006-01-02"), reward, action, env.Holdings()))
}

// Run trains for the configured number of timesteps and returns the agent and
// the replay buffer so a following Test can keep using them.
func (t *Trainer) Run(ctx context.Context) (*agent.TD3, *replay.Buffer, error) {
	t.runID = storage.NewRunID()
	t.episodes = nil

	env, err := t.newEnvironment(t.settings)
	if err != nil {
		return nil, nil, err
	}
	if err := t.prepare(env); err != nil {
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"run":       t.runID,
		"symbols":   t.settings.Symbols,
		"state_dim": env.StateDim(),
		"timesteps": t.params.Timesteps,
	}).Info("[SETUP] Environment initialized")

	scheduler := t.newScheduler()

	state, err := env.Reset()
	if err != nil {
		return nil, nil, err
	}
	var (
		episodeReward    float64
		episodeTimesteps int
		episodeNum       int
		episodeStart     = time.Now()
	)

	bar := t.newProgressBar(t.params.Timesteps, "training")
	for ts := 0; ts < t.params.Timesteps; ts++ {
		if err := ctx.Err(); err != nil {
			return t.agent, t.buffer, t.fail(err)
		}
		episodeTimesteps++

		var action []int
		if ts < t.params.StartTimesteps {
			action = t.explore(env.ActionDim())
		} else if action, err = t.act(state); err != nil {
			return t.agent, t.buffer, t.fail(err)
		}

		next, reward, done, err := env.Step(action)
		if err != nil {
			return t.agent, t.buffer, t.fail(err)
		}
		if t.params.DescribeEvery > 0 && ts%t.params.DescribeEvery == 0 {
			t.describe(bar, env, reward, action)
		}

		// an episode cut by the epoch limit is not terminal for bootstrapping
		doneBool := 0.0
		if done && episodeTimesteps < env.MaxEpoch() {
			doneBool = 1
		}
		if err := t.buffer.Add(state, float64s(action), next, reward, doneBool); err != nil {
			return t.agent, t.buffer, t.fail(err)
		}

		state = next
		episodeReward += reward

		if ts >= t.params.StartTimesteps {
			if _, err := t.agent.Train(t.buffer, t.params.BatchSize); err != nil {
				return t.agent, t.buffer, t.fail(err)
			}
		}

		if done {
			finalValue, err := env.Value()
			if err != nil {
				return t.agent, t.buffer, t.fail(err)
			}
			t.onEpisode(storage.Episode{
				RunID:         t.runID,
				Mode:          storage.ModeTrain,
				Number:        episodeNum + 1,
				Timesteps:     episodeTimesteps,
				RewardSum:     episodeReward,
				StartingValue: env.StartingValue(),
				FinalValue:    finalValue,
				StartedAt:     episodeStart,
				EndedAt:       time.Now(),
			})

			if state, err = env.Reset(); err != nil {
				return t.agent, t.buffer, t.fail(err)
			}
			episodeReward = 0
			episodeTimesteps = 0
			episodeNum++
			episodeStart = time.Now()
		}

		if err := bar.Add(1); err != nil {
			log.Warnf("update progressbar fail: %v", err)
		}
		scheduler.Update(tools.Progress{Timestep: ts + 1, Episode: episodeNum, Now: time.Now()})
	}
	_ = bar.Finish()

	if err := t.checkpoint(t.params.Timesteps, episodeNum); err != nil {
		return t.agent, t.buffer, t.fail(err)
	}
	if t.params.SaveBuffer {
		if err := t.buffer.Save(bufferFile(t.settings.SaveLocation)); err != nil {
			return t.agent, t.buffer, t.fail(err)
		}
	}

	if t.notifier != nil {
		t.notifier.Notify(fmt.Sprintf("Training finished: %d timesteps, %d episodes",
			t.params.Timesteps, episodeNum))
	}
	return t.agent, t.buffer, nil
}

// newScheduler plans the checkpoints of a Run and a one-shot notice when the
// agent starts learning.
func (t *Trainer) newScheduler() *tools.Scheduler {
	scheduler := tools.NewScheduler()
	if t.params.StartTimesteps > 0 {
		scheduler.When("learning starts", func(p tools.Progress) bool {
			return p.Timestep >= t.params.StartTimesteps
		}, func(p tools.Progress) error {
			log.WithFields(log.Fields{
				"timestep":    p.Timestep,
				"episode":     p.Episode,
				"transitions": t.buffer.Len(),
			}).Info("exploration finished, training the policy")
			return nil
		})
	}
	save := func(p tools.Progress) error {
		return t.checkpoint(p.Timestep, p.Episode)
	}
	if t.params.CheckpointEvery > 0 {
		scheduler.Every("checkpoint", tools.EveryTimesteps(t.params.CheckpointEvery), save)
	}
	if t.params.CheckpointInterval > 0 {
		scheduler.Every("timed checkpoint", tools.EveryInterval(t.params.CheckpointInterval), save)
	}
	return scheduler
}

// checkpoint saves the policy and records it in the checkpoint index.
func (t *Trainer) checkpoint(timestep, episode int) error {
	prefix := t.settings.SaveLocation
	if dir := filepath.Dir(prefix); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := t.agent.Save(prefix); err != nil {
		return err
	}

	if t.checkpoints != nil {
		if err := t.checkpoints.SaveCheckpoint(localkv.Checkpoint{
			Prefix:   prefix,
			RunID:    t.runID,
			Timestep: timestep,
			Episode:  episode,
			SavedAt:  time.Now(),
		}); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"timestep": timestep, "episode": episode}).Debug("checkpoint saved")
	return nil
}

func (t *Trainer) onEpisode(episode storage.Episode) {
	if err := t.storage.CreateEpisode(&episode); err != nil {
		log.WithError(err).Error("record episode")
	}
	t.episodes = append(t.episodes, episode)
	for _, subscriber := range t.episodeSubscribers {
		subscriber.OnEpisode(episode)
	}
}

func (t *Trainer) fail(err error) error {
	if t.notifier != nil {
		t.notifier.OnError(err)
	}
	return err
}

// Test walks the policy once over settings from a deterministic start,
// recording the portfolio value after reset and after every step. The agent
// keeps learning online from the test transitions.
func (t *Trainer) Test(ctx context.Context, settings model.Settings) (report.Rows, error) {
	t.runID = storage.NewRunID()
	t.results = nil

	settings.RandomStart = false
	env, err := t.newEnvironment(settings)
	if err != nil {
		return nil, err
	}
	if err := t.prepare(env); err != nil {
		return nil, err
	}
	log.WithField("run", t.runID).Info("Testing policy")

	state, err := env.Reset()
	if err != nil {
		return nil, err
	}
	if err := t.record(env); err != nil {
		return nil, err
	}

	var (
		episodeReward float64
		timesteps     int
		start         = time.Now()
	)
	bar := t.newProgressBar(env.MaxEpoch()-env.Epoch(), "testing")
	for done := false; !done; {
		if err := ctx.Err(); err != nil {
			return t.results, t.fail(err)
		}

		action, err := t.act(state)
		if err != nil {
			return t.results, t.fail(err)
		}
		var next []float64
		var reward float64
		if next, reward, done, err = env.Step(action); err != nil {
			return t.results, t.fail(err)
		}
		doneBool := 0.0
		if done {
			doneBool = 1
		}
		if err := t.buffer.Add(state, float64s(action), next, reward, doneBool); err != nil {
			return t.results, t.fail(err)
		}
		state = next
		episodeReward += reward
		timesteps++

		if _, err := t.agent.Train(t.buffer, t.params.BatchSize); err != nil {
			return t.results, t.fail(err)
		}
		if err := t.record(env); err != nil {
			return t.results, t.fail(err)
		}
		if err := bar.Add(1); err != nil {
			log.Warnf("update progressbar fail: %v", err)
		}
	}
	_ = bar.Finish()

	first := t.results[0]
	last, _ := t.results.Last()
	t.onEpisode(storage.Episode{
		RunID:         t.runID,
		Mode:          storage.ModeTest,
		Number:        1,
		Timesteps:     timesteps,
		RewardSum:     episodeReward,
		StartingValue: first.Value,
		FinalValue:    last.Value,
		StartedAt:     start,
		EndedAt:       time.Now(),
	})

	if err := t.storage.AddValuePoints(lo.Map(t.results, func(row report.Row, _ int) storage.ValuePoint {
		return storage.ValuePoint{RunID: t.runID, Date: row.Date, TimeOfDay: row.TimeOfDay.Clock(), Value: row.Value}
	})); err != nil {
		log.WithError(err).Error("record test values")
	}

	if t.testOutput != "" {
		if err := report.WriteFile(t.testOutput, t.results); err != nil {
			return t.results, t.fail(err)
		}
		log.WithField("file", t.testOutput).Info("test results written")
	}

	if t.notifier != nil {
		t.notifier.Notify(fmt.Sprintf("Test finished: %.2f -> %.2f (%.2f%%)",
			first.Value, last.Value, t.results.Return()*100))
	}
	return t.results, nil
}

func (t *Trainer) record(env *environment.Env) error {
	value, err := env.Value()
	if err != nil {
		return err
	}
	date, tod := env.DateAndTime()
	t.results = append(t.results, report.Row{Date: date, TimeOfDay: tod, Value: value})
	return nil
}

// RunID identifies the last Run or Test in storage.
func (t *Trainer) RunID() string {
	return t.runID
}

func (t *Trainer) Episodes() []storage.Episode {
	return append([]storage.Episode(nil), t.episodes...)
}

// Close releases the agent machines and the storage.
func (t *Trainer) Close() error {
	if t.agent != nil {
		if err := t.agent.Close(); err != nil {
			return err
		}
	}
	return t.storage.Close()
}

// Summary function displays the episodes of the last run in stdout
func (t *Trainer) Summary() {
	fmt.Print(t.SummaryTable())
}

// SummaryTable renders the episodes of the last run.
func (t *Trainer) SummaryTable() string {
	var (
		timesteps int
		reward    float64
		profit    float64
	)

	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Episode", "Mode", "Timesteps", "Reward", "Start", "Final", "Return"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	for _, episode := range t.episodes {
		episodeReturn := 0.0
		if episode.StartingValue != 0 {
			episodeReturn = episode.FinalValue/episode.StartingValue - 1
		}
		table.Append([]string{
			strconv.Itoa(episode.Number),
			string(episode.Mode),
			strconv.Itoa(episode.Timesteps),
			fmt.Sprintf("%.2f", episode.RewardSum),
			fmt.Sprintf("%.2f", episode.StartingValue),
			fmt.Sprintf("%.2f", episode.FinalValue),
			fmt.Sprintf("%.1f %%", episodeReturn*100),
		})
		timesteps += episode.Timesteps
		reward += episode.RewardSum
		profit += episode.FinalValue - episode.StartingValue
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(len(t.episodes)),
		strconv.Itoa(timesteps),
		fmt.Sprintf("%.2f", reward),
		"",
		"PROFIT",
		fmt.Sprintf("%.2f", profit),
	})
	table.Render()
	return buffer.String()
}
