package styletransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wbrown/styletransfer/imageutil"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrNoImage is returned when a run finished without ever producing a
// best image, which happens when the iteration count is zero.
var ErrNoImage = errors.New("no image produced")

// Step records the losses computed at one iteration, before that
// iteration's update was applied.
type Step struct {
	Iteration int
	Total     float64
	Style     float64
	Content   float64
	Improved  bool
}

// Snapshot is the deprocessed candidate image after an improving
// iteration.
type Snapshot struct {
	Iteration int
	Loss      float64
	Image     *imageutil.RGBAImage
}

// Result is the outcome of Transfer.Run.
type Result struct {
	Best      *BestState
	History   []Step
	Snapshots []Snapshot
	Elapsed   time.Duration
}

// Transfer runs gradient descent on the pixels of a candidate image so
// that its content activations match the content image and its Gram
// matrices match the style image.
type Transfer struct {
	Iterations     int
	Weights        LossWeights
	LearnRate      float64
	Beta1          float64
	Beta2          float64
	Epsilon        float64
	NormalizeStyle bool
	KeepSnapshots  bool

	extractor *Extractor
	logger    *slog.Logger
	onImprove func(Snapshot) error
	// onUpdate, when set, sees the candidate after each clipped update.
	onUpdate func(iter int, pixels *tensor.Dense)
}

// Option is a functional option for configuring a Transfer.
type Option func(*Transfer)

// NewTransfer creates a Transfer with the given options.
// Defaults: 100 iterations, DefaultLossWeights, Adam with learning rate 2,
// beta1 0.99, beta2 0.999 and epsilon 0.1, no style normalization.
func NewTransfer(extractor *Extractor, opts ...Option) *Transfer {
	t := &Transfer{
		Iterations: 100,
		Weights:    DefaultLossWeights,
		LearnRate:  2,
		Beta1:      0.99,
		Beta2:      0.999,
		Epsilon:    0.1,

		extractor: extractor,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithIterations sets the fixed number of optimization steps.
func WithIterations(n int) Option {
	return func(t *Transfer) {
		t.Iterations = n
	}
}

// WithLossWeights sets the style and content weights.
func WithLossWeights(w LossWeights) Option {
	return func(t *Transfer) {
		t.Weights = w
	}
}

// WithAdam sets the Adam learning rate, beta1 and epsilon.
func WithAdam(learnRate, beta1, epsilon float64) Option {
	return func(t *Transfer) {
		t.LearnRate = learnRate
		t.Beta1 = beta1
		t.Epsilon = epsilon
	}
}

// WithStyleNormalization divides each style layer loss by 4·C²·(H·W)².
func WithStyleNormalization(enabled bool) Option {
	return func(t *Transfer) {
		t.NormalizeStyle = enabled
	}
}

// WithSnapshots keeps every improving image in Result.Snapshots.
func WithSnapshots(keep bool) Option {
	return func(t *Transfer) {
		t.KeepSnapshots = keep
	}
}

// WithLogger sets the logger used for progress records.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transfer) {
		t.logger = logger
	}
}

// WithImproveHook registers fn to run after every improving iteration.
// An error from fn stops the run.
func WithImproveHook(fn func(Snapshot) error) Option {
	return func(t *Transfer) {
		t.onImprove = fn
	}
}

// targets holds the fixed reference features.
type targets struct {
	grams   []*tensor.Dense
	content []*tensor.Dense
}

func (t *Transfer) computeTargets(content, style *tensor.Dense) (*targets, error) {
	styleFeatures, _, err := t.extractor.Extract(style)
	if err != nil {
		return nil, fmt.Errorf("style features: %w", err)
	}
	_, contentFeatures, err := t.extractor.Extract(content)
	if err != nil {
		return nil, fmt.Errorf("content features: %w", err)
	}

	tg := &targets{content: contentFeatures}
	for i, f := range styleFeatures {
		gram, err := GramMatrix(f)
		if err != nil {
			return nil, fmt.Errorf("style layer %s: %w", t.extractor.styleLayers[i], err)
		}
		tg.grams = append(tg.grams, denseFromMat(gram))
	}
	return tg, nil
}

// Run optimizes a copy of the content image for t.Iterations steps and
// returns the best image seen. There is no convergence test; every step
// runs. If ctx is cancelled between steps, Run returns the partial result
// together with ctx.Err().
func (t *Transfer) Run(ctx context.Context, content, style *imageutil.RGBAImage) (*Result, error) {
	start := time.Now()
	contentT := Preprocess(content)
	styleT := Preprocess(style)

	tg, err := t.computeTargets(contentT, styleT)
	if err != nil {
		return nil, err
	}

	g := gorgonia.NewGraph()
	initImage := contentT.Clone().(*tensor.Dense)
	x := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(initImage.Shape()...),
		gorgonia.WithValue(initImage),
		gorgonia.WithName("init_image"))

	styleOut, contentOut, err := t.extractor.Build(g, x)
	if err != nil {
		return nil, err
	}
	loss, err := buildLoss(g, styleOut, contentOut, tg.grams, tg.content, t.Weights, t.NormalizeStyle)
	if err != nil {
		return nil, err
	}

	var totalVal, styleVal, contentVal gorgonia.Value
	gorgonia.Read(loss.total, &totalVal)
	gorgonia.Read(loss.style, &styleVal)
	gorgonia.Read(loss.content, &contentVal)

	// Gradients flow to the pixels only.
	if _, err := gorgonia.Grad(loss.total, x); err != nil {
		return nil, fmt.Errorf("gradient: %w", err)
	}

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(x))
	defer vm.Close()
	solver := gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(t.LearnRate),
		gorgonia.WithBeta1(t.Beta1),
		gorgonia.WithBeta2(t.Beta2),
		gorgonia.WithEps(t.Epsilon))

	h, w := initImage.Shape()[2], initImage.Shape()[3]
	res := &Result{Best: NewBestState()}
	defer func() { res.Elapsed = time.Since(start) }()

	t.logger.Debug("optimization started",
		"iterations", t.Iterations, "height", h, "width", w,
		"style_weight", t.Weights.Style, "content_weight", t.Weights.Content)

	for i := 0; i < t.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := vm.RunAll(); err != nil {
			return res, fmt.Errorf("iteration %d: %w", i, err)
		}
		step := Step{Iteration: i}
		if step.Total, err = scalarValue(totalVal); err != nil {
			return res, fmt.Errorf("iteration %d: total loss: %w", i, err)
		}
		if step.Style, err = scalarValue(styleVal); err != nil {
			return res, fmt.Errorf("iteration %d: style loss: %w", i, err)
		}
		if step.Content, err = scalarValue(contentVal); err != nil {
			return res, fmt.Errorf("iteration %d: content loss: %w", i, err)
		}

		if err := solver.Step(gorgonia.NodesToValueGrads(gorgonia.Nodes{x})); err != nil {
			return res, fmt.Errorf("iteration %d: update: %w", i, err)
		}
		current, ok := x.Value().(*tensor.Dense)
		if !ok {
			return res, fmt.Errorf("iteration %d: unexpected image value %T", i, x.Value())
		}
		ClipPixels(current.Data().([]float32), h, w)
		if t.onUpdate != nil {
			t.onUpdate(i, current)
		}
		vm.Reset()

		step.Improved, err = res.Best.Observe(i, step.Total, func() (*imageutil.RGBAImage, error) {
			return Deprocess(current)
		})
		if err != nil {
			return res, fmt.Errorf("iteration %d: snapshot: %w", i, err)
		}
		res.History = append(res.History, step)

		if !step.Improved {
			t.logger.Debug("no improvement", "iteration", i, "loss", step.Total)
			continue
		}
		t.logger.Info("improved",
			"iteration", i, "loss", step.Total, "style", step.Style, "content", step.Content)

		snap := Snapshot{Iteration: i, Loss: step.Total, Image: res.Best.Image}
		if t.KeepSnapshots {
			res.Snapshots = append(res.Snapshots, snap)
		}
		if t.onImprove != nil {
			if err := t.onImprove(snap); err != nil {
				return res, fmt.Errorf("iteration %d: improve hook: %w", i, err)
			}
		}
	}
	return res, nil
}
