// Package rendertest holds small scenario-running helpers shared by the
// renderer's tests, built on top of internal/testutil.
package rendertest

import "testing"

// Scenario repeatedly calls add then renders one block via render, capturing
// the last rendered block into dst (pre-sized to the channel count).
func Scenario(t *testing.T, blocks int, blockSize int, numChannels int, add func(), render func(out [][]float64, n int)) [][]float64 {
	t.Helper()
	out := make([][]float64, numChannels)
	for i := range out {
		out[i] = make([]float64, blockSize)
	}
	last := make([][]float64, numChannels)
	for i := range last {
		last[i] = make([]float64, blockSize)
	}
	for b := 0; b < blocks; b++ {
		add()
		render(out, blockSize)
		for i, ch := range out {
			copy(last[i], ch)
		}
	}
	return last
}
