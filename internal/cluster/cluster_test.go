package cluster

import "testing"

func TestLabelsThreshold(t *testing.T) {
	embeddings := [][]float64{
		{1.0, 0.0, 0.0},
		{0.95, 0.05, 0.0},
		{0.9, 0.1, 0.0},
		{0.0, 0.0, 1.0},
	}

	labels := Labels(embeddings, 1.0)
	if len(labels) != 4 {
		t.Fatalf("expected 4 labels, got %d", len(labels))
	}
	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("expected close vectors grouped, got %v", labels)
	}
	if labels[3] == labels[0] {
		t.Errorf("expected outlier separated, got %v", labels)
	}
}

func TestLabelsEdgeCases(t *testing.T) {
	if got := Labels(nil, 1.0); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := Labels([][]float64{{1, 2}}, 1.0); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected single label 0 for one vector, got %v", got)
	}
}

func TestLabelsKExactCount(t *testing.T) {
	// Two tight pairs and one outlier.
	embeddings := [][]float64{
		{1.0, 0.0},
		{1.01, 0.0},
		{0.0, 1.0},
		{0.0, 1.01},
		{-5.0, -5.0},
	}

	labels := LabelsK(embeddings, 3)
	distinct := make(map[int]bool)
	for _, l := range labels {
		distinct[l] = true
	}
	if len(distinct) != 3 {
		t.Fatalf("expected 3 clusters, got %d: %v", len(distinct), labels)
	}
	if labels[0] != labels[1] {
		t.Errorf("expected first pair grouped, got %v", labels)
	}
	if labels[2] != labels[3] {
		t.Errorf("expected second pair grouped, got %v", labels)
	}
	if labels[4] == labels[0] || labels[4] == labels[2] {
		t.Errorf("expected outlier alone, got %v", labels)
	}
}

func TestLabelsKDegenerate(t *testing.T) {
	embeddings := [][]float64{{1, 0}, {0, 1}, {-1, 0}}

	// k >= n: every vector its own cluster.
	labels := LabelsK(embeddings, 5)
	if labels[0] == labels[1] || labels[1] == labels[2] {
		t.Errorf("expected all separate with k >= n, got %v", labels)
	}

	// k <= 1: everything in one cluster.
	labels = LabelsK(embeddings, 0)
	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("expected one cluster with k=0, got %v", labels)
	}
}

func TestGroups(t *testing.T) {
	groups := Groups([]int{0, 1, 0, 2, 1})
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0] != 0 || groups[0][1] != 2 {
		t.Errorf("unexpected group 0: %v", groups[0])
	}
	if len(groups[2]) != 1 || groups[2][0] != 3 {
		t.Errorf("unexpected group 2: %v", groups[2])
	}
}
