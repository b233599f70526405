package repository

// Option applies a configuration option to the BTreeStore.
type Option func(*BTreeStore)

// WithDegree sets the B-tree degree of the ranking index.
func WithDegree(degree int) Option {
	return func(s *BTreeStore) {
		if degree > 1 {
			s.degree = degree
		}
	}
}
