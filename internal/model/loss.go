package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CrossEntropy is the batch-mean softmax cross entropy of logits (B x K) against class targets,
// returning the loss and dLoss/dLogits.
func CrossEntropy(logits [][]float64, targets []int) (float64, [][]float64, error) {
	if len(logits) != len(targets) {
		return 0, nil, fmt.Errorf("cross entropy: %d logit rows for %d targets", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return 0, nil, fmt.Errorf("cross entropy: empty batch")
	}
	n := float64(len(logits))
	grad := make([][]float64, len(logits))
	var loss float64
	for i, row := range logits {
		y := targets[i]
		if y < 0 || y >= len(row) {
			return 0, nil, fmt.Errorf("cross entropy: target %d out of range [0, %d)", y, len(row))
		}
		lse := floats.LogSumExp(row)
		loss += lse - row[y]

		g := make([]float64, len(row))
		for k, z := range row {
			g[k] = math.Exp(z-lse) / n
		}
		g[y] -= 1 / n
		grad[i] = g
	}
	return loss / n, grad, nil
}

// Argmax returns the index of the largest value of each row; ties go to the lowest index.
func Argmax(rows [][]float64) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		if len(r) > 0 {
			out[i] = floats.MaxIdx(r)
		}
	}
	return out
}
