package ml

// Classifier is the trained decision function consumed by the inference
// pipeline. PredictDistribution returns one probability per class index,
// summing to 1 within floating tolerance.
type Classifier interface {
	Predict(features []float64) (int, error)
	PredictDistribution(features []float64) ([]float64, error)
}

type TrainableClassifier interface {
	Classifier
	Train(features [][]float64, labels []int, classCount int) error
	Save(path string) error
	Load(path string) error
}
