// Package policy suggests the hyperparameters for each search iteration.
//
// The schedule is tiered on the best accuracy seen so far: a fixed baseline
// until the search finds a candidate above 0.5, a wide random menu while it
// is below 0.8, and a narrow menu around Adam afterwards.
package policy

import (
	"math/rand"
	"sync"

	"github.com/psantana5/modelsearch/pkg/models"
)

const (
	exploreThreshold = 0.5
	exploitThreshold = 0.8
)

// Baseline is returned for the first iteration and whenever the search has
// not yet produced a candidate worth refining.
var Baseline = models.HyperparameterSet{
	LearningRate: 1e-3,
	BatchSize:    32,
	Optimizer:    models.OptimizerAdam,
	DropoutRate:  0.2,
	Epochs:       3,
}

type menu struct {
	learningRates []float64
	batchSizes    []int
	optimizers    []models.OptimizerKind
	dropouts      []float64
	epochs        []int
}

var exploreMenu = menu{
	learningRates: []float64{1e-3, 5e-4, 2e-4},
	batchSizes:    []int{32, 64},
	optimizers:    []models.OptimizerKind{models.OptimizerAdam, models.OptimizerSGD},
	dropouts:      []float64{0.1, 0.2},
	epochs:        []int{4, 5},
}

var exploitMenu = menu{
	learningRates: []float64{5e-4, 2e-4},
	batchSizes:    []int{16, 32},
	optimizers:    []models.OptimizerKind{models.OptimizerAdam},
	dropouts:      []float64{0.1, 0.15},
	epochs:        []int{5},
}

// Policy maps (iteration, best metric so far) to a HyperparameterSet.
// The only state is the random source.
type Policy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a policy drawing from src
func New(src rand.Source) *Policy {
	return &Policy{rng: rand.New(src)}
}

// NewSeeded creates a policy with a fixed seed
func NewSeeded(seed int64) *Policy {
	return New(rand.NewSource(seed))
}

// Suggest returns the hyperparameters for the given zero-based iteration
func (p *Policy) Suggest(iteration int, best float64) models.HyperparameterSet {
	switch {
	case iteration == 0 || best < exploreThreshold:
		return Baseline
	case best < exploitThreshold:
		return p.draw(exploreMenu)
	default:
		return p.draw(exploitMenu)
	}
}

func (p *Policy) draw(m menu) models.HyperparameterSet {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Draw order is fixed so a seed always reproduces the same sequence
	return models.HyperparameterSet{
		LearningRate: m.learningRates[p.rng.Intn(len(m.learningRates))],
		BatchSize:    m.batchSizes[p.rng.Intn(len(m.batchSizes))],
		Optimizer:    m.optimizers[p.rng.Intn(len(m.optimizers))],
		DropoutRate:  m.dropouts[p.rng.Intn(len(m.dropouts))],
		Epochs:       m.epochs[p.rng.Intn(len(m.epochs))],
	}
}
