package parser

// firstOf runs each strategy in order and returns the first non-nil result.
func firstOf[In, Out any](in In, chain ...func(In) *Out) *Out {
	for _, strategy := range chain {
		if out := strategy(in); out != nil {
			return out
		}
	}
	return nil
}
