package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"hecnn_lib/tensor"

	"gonum.org/v1/gonum/mat"
)

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights maps layer tags to their public weights. Convolution filters
// are stored as [in, out, kh, kw], linear weights as [out, in].
type ModelWeights struct {
	Version string                 `json:"version"`
	Layers  map[string]*WeightData `json:"layers"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// Get returns the weights stored under tag.
func (m *ModelWeights) Get(tag string) (*WeightData, error) {
	wd, ok := m.Layers[tag]
	if !ok || wd == nil {
		return nil, fmt.Errorf("no weights for layer %q", tag)
	}
	return wd, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	t := tensor.New(wd.Shape...)
	if len(t.Data) != len(wd.Data) {
		return nil, fmt.Errorf("weights %q: shape %v needs %d values, got %d", wd.Name, wd.Shape, len(t.Data), len(wd.Data))
	}
	copy(t.Data, wd.Data)
	return t, nil
}

// WeightDataToDense converts 2D weight data to a gonum matrix.
func WeightDataToDense(wd *WeightData) (*mat.Dense, error) {
	if len(wd.Shape) != 2 {
		return nil, fmt.Errorf("weights %q: expected 2D shape, got %v", wd.Name, wd.Shape)
	}
	if wd.Shape[0]*wd.Shape[1] != len(wd.Data) {
		return nil, fmt.Errorf("weights %q: shape %v needs %d values, got %d", wd.Name, wd.Shape, wd.Shape[0]*wd.Shape[1], len(wd.Data))
	}
	return mat.NewDense(wd.Shape[0], wd.Shape[1], append([]float64(nil), wd.Data...)), nil
}

// DenseToWeightData converts a matrix to serializable weight data.
func DenseToWeightData(name string, m mat.Matrix) *WeightData {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return &WeightData{Name: name, Shape: []int{r, c}, Data: data}
}
