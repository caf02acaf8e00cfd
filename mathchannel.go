package flashlog

// MathChannel is a derived channel: its sample stream is produced by
// evaluating a compiled formula against the same-timestamp values of its
// dependency channels. It holds no hardware binding.
type MathChannel struct {
	ID       string
	Formula  string
	program  *CompiledFormula
	deps     []string  // dependency channel ids, in binding order
	bindings []float64 // reused per sample
}

// NewMathChannel compiles formula against knownVars. Dependencies resolve
// only to names in knownVars, which the caller orders so that a math channel
// can see physical channels and earlier math channels but never itself or a
// later one; cycles cannot form.
func NewMathChannel(id, formula string, knownVars []string) (*MathChannel, error) {
	prog, err := CompileFormula(formula, knownVars)
	if err != nil {
		return nil, err
	}
	deps := prog.Vars()
	return &MathChannel{
		ID:       id,
		Formula:  formula,
		program:  prog,
		deps:     deps,
		bindings: make([]float64, len(deps)),
	}, nil
}

// Dependencies returns the channel ids this formula references.
func (m *MathChannel) Dependencies() []string { return m.deps }

// EvalSample computes the channel's value at one time slice. values maps
// channel id to that slice's value for every channel resolved so far.
// A domain error yields NaN, never an error.
func (m *MathChannel) EvalSample(values map[string]float64) float64 {
	for i, dep := range m.deps {
		m.bindings[i] = values[dep]
	}
	return m.program.Eval(m.bindings)
}

// Reset clears any trailing aggregate windows so a fresh session does not
// inherit statistics from the previous one.
func (m *MathChannel) Reset() { m.program.Reset() }
