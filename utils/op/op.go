// Package op provides extended Gorgonia graph operations.
package op

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Huber computes a smooth, robust loss between pred and target. Since
// Gorgonia's comparison operators are not differentiable, the piecewise
// Huber function cannot be used directly in a computational graph.
// Instead, this function computes the pseudo-Huber loss
//
//	δ² (√(1 + (d/δ)²) − 1)		d = pred − target
//
// which behaves quadratically for small residuals and linearly for
// large ones, averaged over all elements of pred.
func Huber(pred, target *G.Node, delta float64) (*G.Node, error) {
	if pred.Graph() != target.Graph() {
		return nil, fmt.Errorf("huber: pred and target must share a graph")
	}
	if delta <= 0 {
		return nil, fmt.Errorf("huber: delta must be positive \n\twant(> 0)"+
			"\n\thave(%v)", delta)
	}

	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, fmt.Errorf("huber: could not compute residual: %v", err)
	}

	deltaSquared := G.NewConstant(delta * delta)
	scaled, err := G.HadamardDiv(
		G.Must(G.Square(diff)),
		deltaSquared,
	)
	if err != nil {
		return nil, fmt.Errorf("huber: could not scale residual: %v", err)
	}

	one := G.NewConstant(1.0)
	root, err := G.Sqrt(G.Must(G.Add(scaled, one)))
	if err != nil {
		return nil, fmt.Errorf("huber: could not compute root: %v", err)
	}

	loss, err := G.Sub(root, one)
	if err != nil {
		return nil, fmt.Errorf("huber: could not shift root: %v", err)
	}
	loss, err = G.HadamardProd(loss, deltaSquared)
	if err != nil {
		return nil, fmt.Errorf("huber: could not rescale loss: %v", err)
	}

	return G.Mean(loss)
}

// GradientNormPenalty computes E[‖∇ₓ f(x)‖₂²] from the input gradient
// of some network f. The grad parameter holds ∂(Σ f(x))/∂x for a batch
// of inputs x and must be two-dimensional with one row per sample.
// Each row's squared L2 norm is computed, then averaged over the batch.
func GradientNormPenalty(grad *G.Node) (*G.Node, error) {
	if len(grad.Shape()) != 2 {
		return nil, fmt.Errorf("gradientNormPenalty: gradient must be a "+
			"matrix \n\twant(2 dimensions)\n\thave(%v)", len(grad.Shape()))
	}

	squared, err := G.Square(grad)
	if err != nil {
		return nil, fmt.Errorf("gradientNormPenalty: could not square "+
			"gradient: %v", err)
	}

	norms, err := G.Sum(squared, 1)
	if err != nil {
		return nil, fmt.Errorf("gradientNormPenalty: could not compute "+
			"norms: %v", err)
	}

	return G.Mean(norms)
}
