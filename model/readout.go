package model

import (
	"fmt"
	"math"

	"github.com/carbocation/runningvariance"
	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// ReadoutHead turns fused features [batch, Dim, length, S] into one
// z-normalized value per time step.
type ReadoutHead struct {
	Dim     int
	Refine  *nn.Conv1D
	Project *nn.Conv1D
}

func NewReadoutHead(dim, kernel int) (*ReadoutHead, error) {
	refine, err := nn.NewConv1D(dim, dim, kernel, true)
	if err != nil {
		return nil, err
	}
	project, err := nn.NewConv1D(dim, 1, 1, true)
	if err != nil {
		return nil, err
	}
	return &ReadoutHead{Dim: dim, Refine: refine, Project: project}, nil
}

func (r *ReadoutHead) Init(src rand.Source) {
	r.Refine.Init(src)
	r.Project.Init(src)
}

func (r *ReadoutHead) Parameters(prefix string) []nn.Parameter {
	return append(r.Refine.Parameters(nn.JoinName(prefix, "refine")), r.Project.Parameters(nn.JoinName(prefix, "project"))...)
}

// Forward returns the [batch, length] signal before normalization.
func (r *ReadoutHead) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 4 || x.Shape[1] != r.Dim {
		return nil, fmt.Errorf("%w: readout expects [N, %d, L, S], got %v", ErrShape, r.Dim, x.Shape)
	}
	pooled, err := nn.MeanLastAxis(x)
	if err != nil {
		return nil, err
	}

	logits, err := r.Refine.Forward(pooled)
	if err != nil {
		return nil, err
	}
	// (1 + sigmoid) keeps the gate in [1, 2].
	for i, v := range logits.Data {
		logits.Data[i] = (1 + nn.Sigmoid(v)) * pooled.Data[i]
	}

	out, err := r.Project.Forward(logits)
	if err != nil {
		return nil, err
	}
	return out.Reshape(out.Shape[0], out.Shape[2])
}

// ZNormalize subtracts the mean and divides by the sample standard deviation
// computed over every element of x, so all batch rows share one set of
// statistics. A constant tensor maps to zeros.
func ZNormalize(x *nn.Tensor) *nn.Tensor {
	rs := runningvariance.NewRunningStat()
	for _, v := range x.Data {
		rs.Push(float64(v))
	}

	out := nn.New(x.Shape...)
	sd := rs.StandardDeviation()
	if sd == 0 || math.IsNaN(sd) {
		return out
	}
	mean := rs.Mean()
	for i, v := range x.Data {
		out.Data[i] = float32((float64(v) - mean) / sd)
	}
	return out
}
