package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

const DecisionTreeType = "decision_tree"

type DecisionTree struct {
	maxDepth     int
	classCount   int
	featureNames []string
	fingerprint  string
	nodes        []TreeNode
}

// TreeNode is one entry of the flattened tree. Children always sit at higher
// indices than their parent. Leaves carry the class distribution of the
// training samples that reached them.
type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Samples      int       `json:"samples"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// NewDecisionTree returns an untrained tree. maxDepth <= 0 grows the tree
// until every leaf is pure or cannot be split further.
func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{maxDepth: maxDepth}
}

func (dt *DecisionTree) SetFeatureNames(names []string) {
	dt.featureNames = append([]string(nil), names...)
}

func (dt *DecisionTree) FeatureNames() []string { return append([]string(nil), dt.featureNames...) }

func (dt *DecisionTree) SetFingerprint(fp string) { dt.fingerprint = fp }

func (dt *DecisionTree) Fingerprint() string { return dt.fingerprint }

func (dt *DecisionTree) ClassCount() int { return dt.classCount }

func (dt *DecisionTree) NodeCount() int { return len(dt.nodes) }

func (dt *DecisionTree) Train(features [][]float64, labels []int, classCount int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if classCount <= 0 {
		return errors.New("class count must be positive")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, f := range features {
		if len(f) != width {
			return fmt.Errorf("feature vector %d has %d values, want %d", i, len(f), width)
		}
	}
	for i, l := range labels {
		if l < 0 || l >= classCount {
			return fmt.Errorf("label %d at %d outside [0,%d)", l, i, classCount)
		}
	}
	if len(dt.featureNames) > 0 && len(dt.featureNames) != width {
		return fmt.Errorf("tree has %d feature names but vectors have %d values", len(dt.featureNames), width)
	}

	dt.classCount = classCount
	dt.nodes = nil
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	dt.buildNode(features, labels, indices, 0)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	return leaf.ClassLabel, nil
}

func (dt *DecisionTree) PredictDistribution(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), leaf.Distribution...), nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(dt.featureNames) > 0 && len(features) != len(dt.featureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(dt.featureNames), len(features))
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
	return nil, errors.New("invalid tree state")
}

type modelArtifact struct {
	Fingerprint  string     `json:"fingerprint"`
	ModelType    string     `json:"model_type"`
	FeatureNames []string   `json:"feature_names"`
	ClassCount   int        `json:"class_count"`
	MaxDepth     int        `json:"max_depth"`
	Nodes        []TreeNode `json:"nodes"`
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(modelArtifact{
		Fingerprint:  dt.fingerprint,
		ModelType:    DecisionTreeType,
		FeatureNames: dt.featureNames,
		ClassCount:   dt.classCount,
		MaxDepth:     dt.maxDepth,
		Nodes:        dt.nodes,
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact modelArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return err
	}
	if artifact.ModelType != "" && artifact.ModelType != DecisionTreeType {
		return fmt.Errorf("model type %q is not %s", artifact.ModelType, DecisionTreeType)
	}
	if err := validateNodes(artifact.Nodes, artifact.ClassCount, len(artifact.FeatureNames)); err != nil {
		return err
	}
	dt.fingerprint = artifact.Fingerprint
	dt.featureNames = artifact.FeatureNames
	dt.classCount = artifact.ClassCount
	dt.maxDepth = artifact.MaxDepth
	dt.nodes = artifact.Nodes
	return nil
}

func validateNodes(nodes []TreeNode, classCount, featureCount int) error {
	if len(nodes) == 0 {
		return errors.New("model has no nodes")
	}
	if classCount <= 0 {
		return errors.New("model class count must be positive")
	}
	for i, n := range nodes {
		if n.IsLeaf {
			if len(n.Distribution) != classCount {
				return fmt.Errorf("node %d: distribution has %d classes, want %d", i, len(n.Distribution), classCount)
			}
			continue
		}
		if n.LeftChild <= i || n.LeftChild >= len(nodes) || n.RightChild <= i || n.RightChild >= len(nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if n.FeatureIdx < 0 || (featureCount > 0 && n.FeatureIdx >= featureCount) {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.FeatureIdx)
		}
	}
	return nil
}

// buildNode appends the subtree for indices and returns its root index.
func (dt *DecisionTree) buildNode(features [][]float64, labels []int, indices []int, depth int) int {
	counts := classCounts(labels, indices, dt.classCount)
	self := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: argmax(counts),
		IsLeaf:     true,
		Samples:    len(indices),
	})

	if (dt.maxDepth > 0 && depth >= dt.maxDepth) || isPure(counts) {
		dt.nodes[self].Distribution = normalize(counts)
		return self
	}

	bestFeature, threshold, ok := findBestSplit(features, labels, indices, dt.classCount)
	if !ok {
		dt.nodes[self].Distribution = normalize(counts)
		return self
	}

	left, right := splitIndices(features, indices, bestFeature, threshold)
	if len(left) == 0 || len(right) == 0 {
		dt.nodes[self].Distribution = normalize(counts)
		return self
	}
	leftIdx := dt.buildNode(features, labels, left, depth+1)
	rightIdx := dt.buildNode(features, labels, right, depth+1)

	node := &dt.nodes[self]
	node.FeatureIdx = bestFeature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return self
}

// findBestSplit scans midpoints between consecutive distinct values of each
// feature and keeps the lowest weighted gini. Ties keep the earliest feature.
func findBestSplit(features [][]float64, labels []int, indices []int, classCount int) (int, float64, bool) {
	featureCount := len(features[indices[0]])
	total := classCounts(labels, indices, classCount)
	n := float64(len(indices))

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	sorted := make([]int, len(indices))
	left := make([]int, classCount)
	right := make([]int, classCount)
	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})
		for c := range left {
			left[c] = 0
			right[c] = total[c]
		}
		for i := 0; i < len(sorted)-1; i++ {
			label := labels[sorted[i]]
			left[label]++
			right[label]--
			v, next := features[sorted[i]][featureIdx], features[sorted[i+1]][featureIdx]
			if v == next {
				continue
			}
			leftN := float64(i + 1)
			rightN := n - leftN
			impurity := (leftN/n)*gini(left, leftN) + (rightN/n)*gini(right, rightN)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = midpoint(v, next)
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// midpoint falls back to v when v and next are adjacent floats and the
// halfway value rounds up to next.
func midpoint(v, next float64) float64 {
	m := v + (next-v)/2
	if m >= next {
		return v
	}
	return m
}

func splitIndices(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0)
	right := make([]int, 0)
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func classCounts(labels []int, indices []int, classCount int) []int {
	counts := make([]int, classCount)
	for _, i := range indices {
		counts[labels[i]]++
	}
	return counts
}

func gini(counts []int, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / n
		impurity -= p * p
	}
	return impurity
}

func normalize(counts []int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	dist := make([]float64, len(counts))
	if total == 0 {
		return dist
	}
	for i, c := range counts {
		dist[i] = float64(c) / float64(total)
	}
	return dist
}

func argmax(counts []int) int {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
