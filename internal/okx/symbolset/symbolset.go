package symbolset

// Set is the immutable set of configured instruments. The zero value is empty.
type Set struct {
	symbols []string
	index   map[string]struct{}
}

// New builds a Set, keeping first-seen order and dropping duplicates.
func New(symbols []string) Set {
	s := Set{
		symbols: make([]string, 0, len(symbols)),
		index:   make(map[string]struct{}, len(symbols)),
	}
	for _, sym := range symbols {
		if _, ok := s.index[sym]; ok {
			continue
		}
		s.index[sym] = struct{}{}
		s.symbols = append(s.symbols, sym)
	}
	return s
}

func (s Set) Contains(symbol string) bool {
	_, ok := s.index[symbol]
	return ok
}

// List returns a copy of the symbols in configured order.
func (s Set) List() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func (s Set) Len() int { return len(s.symbols) }
