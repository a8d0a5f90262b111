// Package cluster implements Ward agglomerative clustering over embedding
// vectors. It is used to merge near-duplicate taxonomy candidates.
package cluster

// Labels groups embedding vectors by Ward linkage, cutting the dendrogram at
// the given Euclidean distance threshold. Returns a cluster label per input
// vector, numbered sequentially from 0.
func Labels(embeddings [][]float64, threshold float64) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	dist := pairwiseDistances(embeddings)
	merges := wardLinkage(dist, n)
	return cutDendrogram(merges, n, threshold)
}

// LabelsK groups embedding vectors by Ward linkage into exactly k clusters
// (or n clusters when k >= n). The lowest-distance merges are applied first,
// so the k survivors are the most internally coherent grouping the dendrogram
// offers.
func LabelsK(embeddings [][]float64, k int) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels
	}
	dist := pairwiseDistances(embeddings)
	merges := wardLinkage(dist, n)
	return cutToCount(merges, n, k)
}

// cutToCount applies the first n-k merges of the dendrogram so exactly k
// clusters remain.
func cutToCount(merges []merge, n, k int) []int {
	labels := make([]int, 2*n-1)
	for i := range labels {
		labels[i] = i
	}

	for step, m := range merges {
		newCluster := n + step
		if step < n-k {
			labelA := find(labels, m.a)
			labels[newCluster] = labelA
			setLabel(labels, m.b, labelA)
		} else {
			labels[newCluster] = newCluster
		}
	}

	finalLabels := make([]int, n)
	labelMap := make(map[int]int)
	nextID := 0
	for i := 0; i < n; i++ {
		root := find(labels, i)
		if _, ok := labelMap[root]; !ok {
			labelMap[root] = nextID
			nextID++
		}
		finalLabels[i] = labelMap[root]
	}
	return finalLabels
}

// Groups partitions indices 0..n-1 by their cluster label.
func Groups(labels []int) [][]int {
	if len(labels) == 0 {
		return nil
	}
	max := 0
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	groups := make([][]int, max+1)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	return groups
}
