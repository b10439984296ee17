package infer

import (
	"fmt"

	"github.com/sugarme/iseg3d/volume"
)

// ClassDice returns the Dice coefficient of each class between two label
// volumes. A class absent from both scores 1.
func ClassDice(pred, truth *volume.Volume, classes int) ([]float64, error) {
	if len(pred.Data) != len(truth.Data) {
		return nil, fmt.Errorf("%w: prediction %v, truth %v", volume.ErrShapeMismatch, pred.Shape, truth.Shape)
	}

	inter := make([]float64, classes)
	pSum := make([]float64, classes)
	tSum := make([]float64, classes)
	for i, pv := range pred.Data {
		pc, tc := int(pv), int(truth.Data[i])
		if pc >= 0 && pc < classes {
			pSum[pc]++
		}
		if tc >= 0 && tc < classes {
			tSum[tc]++
		}
		if pc == tc && pc >= 0 && pc < classes {
			inter[pc]++
		}
	}

	dice := make([]float64, classes)
	for c := range dice {
		if pSum[c]+tSum[c] == 0 {
			dice[c] = 1
			continue
		}
		dice[c] = 2 * inter[c] / (pSum[c] + tSum[c])
	}

	return dice, nil
}
