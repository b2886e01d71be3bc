// Package fmppo implements a forward-model-augmented PPO agent on dense
// gonum math: small two-layer networks for policy, value and a predictive
// model of the next observation and reward, trained with Adam from
// hand-derived gradients.
package fmppo

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MLP is a two-layer perceptron with a tanh hidden layer. Gradients
// accumulate across Backward calls until Step or ZeroGrad.
type MLP struct {
	inSize, hiddenSize, outSize int

	w1 *mat.Dense // hidden x in
	b1 []float64
	w2 *mat.Dense // out x hidden
	b2 []float64

	gw1 *mat.Dense
	gb1 []float64
	gw2 *mat.Dense
	gb2 []float64

	opt *adam
}

// NewMLP creates an MLP with orthogonal-ish scaled uniform init drawn
// from rng.
func NewMLP(inSize, hiddenSize, outSize int, rng *rand.Rand) *MLP {
	m := &MLP{
		inSize:     inSize,
		hiddenSize: hiddenSize,
		outSize:    outSize,
		w1:         mat.NewDense(hiddenSize, inSize, nil),
		b1:         make([]float64, hiddenSize),
		w2:         mat.NewDense(outSize, hiddenSize, nil),
		b2:         make([]float64, outSize),
		gw1:        mat.NewDense(hiddenSize, inSize, nil),
		gb1:        make([]float64, hiddenSize),
		gw2:        mat.NewDense(outSize, hiddenSize, nil),
		gb2:        make([]float64, outSize),
	}
	initUniform(m.w1, rng, math.Sqrt(1.0/float64(inSize)))
	initUniform(m.w2, rng, math.Sqrt(1.0/float64(hiddenSize)))
	m.opt = newAdam(m)
	return m
}

func initUniform(w *mat.Dense, rng *rand.Rand, scale float64) {
	r, c := w.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w.Set(i, j, (2*rng.Float64()-1)*scale)
		}
	}
}

// Forward computes the network output for x, also returning the hidden
// activations needed by Backward.
func (m *MLP) Forward(x []float64) (out, hidden []float64) {
	if len(x) != m.inSize {
		panic(fmt.Sprintf("fmppo: input size %d, want %d", len(x), m.inSize))
	}
	hidden = make([]float64, m.hiddenSize)
	xv := mat.NewVecDense(m.inSize, x)
	hv := mat.NewVecDense(m.hiddenSize, hidden)
	hv.MulVec(m.w1, xv)
	for i := range hidden {
		hidden[i] = math.Tanh(hidden[i] + m.b1[i])
	}
	out = make([]float64, m.outSize)
	ov := mat.NewVecDense(m.outSize, out)
	ov.MulVec(m.w2, hv)
	for i := range out {
		out[i] += m.b2[i]
	}
	return out, hidden
}

// Backward accumulates parameter gradients for one sample given the
// gradient of the loss with respect to the network output.
func (m *MLP) Backward(x, hidden, dOut []float64) {
	// Output layer.
	for i := 0; i < m.outSize; i++ {
		g := dOut[i]
		if g == 0 {
			continue
		}
		m.gb2[i] += g
		for j := 0; j < m.hiddenSize; j++ {
			m.gw2.Set(i, j, m.gw2.At(i, j)+g*hidden[j])
		}
	}

	// Hidden layer through the tanh.
	for j := 0; j < m.hiddenSize; j++ {
		var dh float64
		for i := 0; i < m.outSize; i++ {
			dh += dOut[i] * m.w2.At(i, j)
		}
		dh *= 1 - hidden[j]*hidden[j]
		if dh == 0 {
			continue
		}
		m.gb1[j] += dh
		for k := 0; k < m.inSize; k++ {
			m.gw1.Set(j, k, m.gw1.At(j, k)+dh*x[k])
		}
	}
}

// ZeroGrad clears the gradient accumulators.
func (m *MLP) ZeroGrad() {
	m.gw1.Zero()
	m.gw2.Zero()
	for i := range m.gb1 {
		m.gb1[i] = 0
	}
	for i := range m.gb2 {
		m.gb2[i] = 0
	}
}

// GradNorm returns the L2 norm over all accumulated gradients.
func (m *MLP) GradNorm() float64 {
	var sum float64
	sum += sumSquares(m.gw1)
	sum += sumSquares(m.gw2)
	for _, g := range m.gb1 {
		sum += g * g
	}
	for _, g := range m.gb2 {
		sum += g * g
	}
	return math.Sqrt(sum)
}

func sumSquares(w *mat.Dense) float64 {
	var sum float64
	r, c := w.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := w.At(i, j)
			sum += v * v
		}
	}
	return sum
}

// Step applies one Adam update scaled by 1/batchSize, clipping the global
// gradient norm to maxNorm when positive, then clears the gradients.
func (m *MLP) Step(lr float64, batchSize int, maxNorm float64) {
	scale := 1.0 / float64(batchSize)
	if maxNorm > 0 {
		norm := m.GradNorm() * scale
		if norm > maxNorm {
			scale *= maxNorm / norm
		}
	}
	m.opt.step(m, lr, scale)
	m.ZeroGrad()
}

// adam holds first and second moment estimates per parameter tensor.
type adam struct {
	t        int
	mw1, vw1 *mat.Dense
	mw2, vw2 *mat.Dense
	mb1, vb1 []float64
	mb2, vb2 []float64
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

func newAdam(m *MLP) *adam {
	return &adam{
		mw1: mat.NewDense(m.hiddenSize, m.inSize, nil),
		vw1: mat.NewDense(m.hiddenSize, m.inSize, nil),
		mw2: mat.NewDense(m.outSize, m.hiddenSize, nil),
		vw2: mat.NewDense(m.outSize, m.hiddenSize, nil),
		mb1: make([]float64, m.hiddenSize),
		vb1: make([]float64, m.hiddenSize),
		mb2: make([]float64, m.outSize),
		vb2: make([]float64, m.outSize),
	}
}

func (a *adam) step(m *MLP, lr, scale float64) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	updateDense := func(w, g, mm, vv *mat.Dense) {
		r, c := w.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				grad := g.At(i, j) * scale
				mh := adamBeta1*mm.At(i, j) + (1-adamBeta1)*grad
				vh := adamBeta2*vv.At(i, j) + (1-adamBeta2)*grad*grad
				mm.Set(i, j, mh)
				vv.Set(i, j, vh)
				w.Set(i, j, w.At(i, j)-lr*(mh/c1)/(math.Sqrt(vh/c2)+adamEps))
			}
		}
	}
	updateSlice := func(w, g, mm, vv []float64) {
		for i := range w {
			grad := g[i] * scale
			mm[i] = adamBeta1*mm[i] + (1-adamBeta1)*grad
			vv[i] = adamBeta2*vv[i] + (1-adamBeta2)*grad*grad
			w[i] -= lr * (mm[i] / c1) / (math.Sqrt(vv[i]/c2) + adamEps)
		}
	}

	updateDense(m.w1, m.gw1, a.mw1, a.vw1)
	updateDense(m.w2, m.gw2, a.mw2, a.vw2)
	updateSlice(m.b1, m.gb1, a.mb1, a.vb1)
	updateSlice(m.b2, m.gb2, a.mb2, a.vb2)
}

// softmax converts logits to probabilities in place-safe fashion.
func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
