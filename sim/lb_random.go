package sim

// RandomBalancer picks uniformly from the candidate pool using the
// placement RNG subsystem.
type RandomBalancer struct{}

// Select implements LoadBalancingPolicy for RandomBalancer.
func (RandomBalancer) Select(pool []ClusterNode, st *BalancerState) int {
	if len(pool) == 0 {
		panic("RandomBalancer.Select: empty pool")
	}
	return st.Rand.Intn(len(pool))
}
