package flashlog

// Compiles math-channel formulas into a postfix instruction program that can
// be evaluated once per sample without re-parsing. Domain errors (divide by
// zero, log of a non-positive, asin/acos out of range) never panic: they
// yield NaN, which the renderer and the data log suppress downstream.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// aggWindowSize bounds the trailing window held by each aggregate call site.
const aggWindowSize = 1000

type opcode uint8

const (
	opConst opcode = iota
	opVar
	opNeg
	opAdd
	opSub
	opMul
	opDiv
	opPow
	opCall1 // unary function; arg indexes func1Table
	opCall2 // binary function; arg indexes func2Table
	opAgg   // aggregate; arg indexes CompiledFormula.windows
)

type instr struct {
	op  opcode
	arg int
	val float64 // constant value for opConst
}

type func1 struct {
	name string
	fn   func(float64) float64
}

type func2 struct {
	name string
	fn   func(float64, float64) float64
}

var func1Table = []func1{
	{"sqrt", math.Sqrt},
	{"abs", math.Abs},
	{"sin", math.Sin},
	{"cos", math.Cos},
	{"tan", math.Tan},
	{"asin", math.Asin},
	{"acos", math.Acos},
	{"atan", math.Atan},
	{"exp", math.Exp},
	{"log", math.Log},
	{"ln", math.Log},
	{"log10", math.Log10},
}

var func2Table = []func2{
	{"pow", math.Pow},
	{"atan2", math.Atan2},
}

type aggKind int

const (
	aggAvg aggKind = iota
	aggMin
	aggMax
	aggStd
	aggMedian
)

var aggNames = map[string]aggKind{
	"avg": aggAvg, "min": aggMin, "max": aggMax, "std": aggStd, "median": aggMedian,
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// aggWindow is the bounded trailing window behind one aggregate call site.
type aggWindow struct {
	kind    aggKind
	ring    [aggWindowSize]float64
	n       int // values held, up to aggWindowSize
	next    int // ring insertion point
	scratch []float64
}

func (w *aggWindow) push(v float64) {
	if math.IsNaN(v) {
		return // a NaN sample must not poison the whole window
	}
	w.ring[w.next] = v
	w.next = (w.next + 1) % aggWindowSize
	if w.n < aggWindowSize {
		w.n++
	}
}

func (w *aggWindow) reset() {
	w.n = 0
	w.next = 0
}

func (w *aggWindow) value() float64 {
	if w.n == 0 {
		return math.NaN()
	}
	w.scratch = w.scratch[:0]
	w.scratch = append(w.scratch, w.ring[:w.n]...)
	switch w.kind {
	case aggAvg:
		return stat.Mean(w.scratch, nil)
	case aggMin:
		return floats.Min(w.scratch)
	case aggMax:
		return floats.Max(w.scratch)
	case aggStd:
		if w.n < 2 {
			return 0
		}
		return stat.StdDev(w.scratch, nil)
	case aggMedian:
		sort.Float64s(w.scratch)
		return stat.Quantile(0.5, stat.LinInterp, w.scratch, nil)
	}
	return math.NaN()
}

// CompiledFormula is the evaluable form of one math-channel formula.
type CompiledFormula struct {
	text     string
	prog     []instr
	vars     []string // referenced variables, in binding order
	varIndex map[string]int
	windows  []*aggWindow
	stack    []float64 // reused across Eval calls
}

// Text returns the source text the formula was compiled from.
func (c *CompiledFormula) Text() string { return c.text }

// Vars returns the names of the variables the formula references, in the
// order Eval expects its bindings.
func (c *CompiledFormula) Vars() []string { return c.vars }

// Reset clears the trailing windows of any aggregate terms. Call on session
// Reset so a fresh run does not see statistics from the previous one.
func (c *CompiledFormula) Reset() {
	for _, w := range c.windows {
		w.reset()
	}
}

// Eval runs the compiled program against one sample's variable bindings,
// ordered as Vars(). The result is NaN on any arithmetic domain error, and
// NaN inputs propagate. Eval never panics and allocates nothing after the
// first call.
func (c *CompiledFormula) Eval(bindings []float64) float64 {
	stack := c.stack[:0]
	for i := range c.prog {
		in := &c.prog[i]
		switch in.op {
		case opConst:
			stack = append(stack, in.val)
		case opVar:
			stack = append(stack, bindings[in.arg])
		case opNeg:
			stack[len(stack)-1] = -stack[len(stack)-1]
		case opAdd:
			stack[len(stack)-2] += stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case opSub:
			stack[len(stack)-2] -= stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case opMul:
			stack[len(stack)-2] *= stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case opDiv:
			den := stack[len(stack)-1]
			if den == 0 {
				stack[len(stack)-2] = math.NaN()
			} else {
				stack[len(stack)-2] /= den
			}
			stack = stack[:len(stack)-1]
		case opPow:
			stack[len(stack)-2] = math.Pow(stack[len(stack)-2], stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		case opCall1:
			stack[len(stack)-1] = func1Table[in.arg].fn(stack[len(stack)-1])
		case opCall2:
			stack[len(stack)-2] = func2Table[in.arg].fn(stack[len(stack)-2], stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		case opAgg:
			w := c.windows[in.arg]
			w.push(stack[len(stack)-1])
			stack[len(stack)-1] = w.value()
		}
	}
	c.stack = stack[:0]
	result := stack[0]
	if math.IsInf(result, 0) {
		return math.NaN()
	}
	return result
}

// ----- lexing -----

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokOp // one of + - * / ^
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	val  float64
	pos  int
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lexFormula(src string) ([]token, *FormulaError) {
	lx := lexer{src: src}
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		switch {
		case ch == ' ' || ch == '\t':
			lx.pos++
		case ch >= '0' && ch <= '9' || ch == '.':
			start := lx.pos
			for lx.pos < len(lx.src) && (isDigitDot(lx.src[lx.pos]) || isExponent(lx.src, lx.pos)) {
				lx.pos++
			}
			text := lx.src[start:lx.pos]
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &FormulaError{Formula: src, Pos: start, Msg: fmt.Sprintf("bad number %q", text)}
			}
			lx.toks = append(lx.toks, token{kind: tokNumber, text: text, val: v, pos: start})
		case isIdentStart(rune(ch)):
			start := lx.pos
			for lx.pos < len(lx.src) && isIdentPart(rune(lx.src[lx.pos])) {
				lx.pos++
			}
			lx.toks = append(lx.toks, token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start})
		case strings.ContainsRune("+-*/^", rune(ch)):
			lx.toks = append(lx.toks, token{kind: tokOp, text: string(ch), pos: lx.pos})
			lx.pos++
		case ch == '(':
			lx.toks = append(lx.toks, token{kind: tokLParen, text: "(", pos: lx.pos})
			lx.pos++
		case ch == ')':
			lx.toks = append(lx.toks, token{kind: tokRParen, text: ")", pos: lx.pos})
			lx.pos++
		case ch == ',':
			lx.toks = append(lx.toks, token{kind: tokComma, text: ",", pos: lx.pos})
			lx.pos++
		default:
			return nil, &FormulaError{Formula: src, Pos: lx.pos, Msg: fmt.Sprintf("unexpected character %q", ch)}
		}
	}
	lx.toks = append(lx.toks, token{kind: tokEOF, pos: len(src)})
	return lx.toks, nil
}

func isDigitDot(b byte) bool { return b >= '0' && b <= '9' || b == '.' }

// isExponent accepts the e/E (and a following sign) of scientific notation,
// but only when preceded by a digit so identifiers like "e" still lex alone.
func isExponent(s string, i int) bool {
	b := s[i]
	if b == 'e' || b == 'E' {
		return i > 0 && s[i-1] >= '0' && s[i-1] <= '9' &&
			i+1 < len(s) && (s[i+1] >= '0' && s[i+1] <= '9' || s[i+1] == '+' || s[i+1] == '-')
	}
	if (b == '+' || b == '-') && i > 0 {
		p := s[i-1]
		return p == 'e' || p == 'E'
	}
	return false
}

func isIdentStart(r rune) bool { return unicode.IsLetter(r) || r == '_' }
func isIdentPart(r rune) bool  { return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' }

// ----- parsing -----

type parser struct {
	src   string
	toks  []token
	i     int
	known map[string]bool
	out   *CompiledFormula
}

func (p *parser) peek() token { return p.toks[p.i] }
func (p *parser) next() token { t := p.toks[p.i]; p.i++; return t }

func (p *parser) errf(pos int, format string, args ...interface{}) *FormulaError {
	return &FormulaError{Formula: p.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func binaryPrec(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*", "/":
		return 2
	case "^":
		return 3
	}
	return 0
}

// CompileFormula compiles a formula over the given variable names into an
// evaluable program. Compilation fails with a *FormulaError on an unknown
// identifier, an unsupported function, an arity mismatch, or unbalanced
// grouping; it never fails on values, only on structure.
func CompileFormula(text string, knownVars []string) (*CompiledFormula, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &FormulaError{Formula: text, Pos: 0, Msg: "empty formula"}
	}
	toks, lerr := lexFormula(text)
	if lerr != nil {
		return nil, lerr
	}
	known := make(map[string]bool, len(knownVars))
	for _, v := range knownVars {
		known[v] = true
	}
	c := &CompiledFormula{text: text, varIndex: make(map[string]int)}
	p := &parser{src: text, toks: toks, known: known, out: c}
	if err := p.parseExpr(1); err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errf(t.pos, "unexpected %q after expression", t.text)
	}
	return c, nil
}

func (p *parser) emit(in instr) { p.out.prog = append(p.out.prog, in) }

func (p *parser) parseExpr(minPrec int) *FormulaError {
	if err := p.parsePrefix(); err != nil {
		return err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			return nil
		}
		prec := binaryPrec(t.text)
		if prec < minPrec {
			return nil
		}
		p.next()
		// ^ is right-associative; the others are left-associative.
		nextMin := prec + 1
		if t.text == "^" {
			nextMin = prec
		}
		if err := p.parseExpr(nextMin); err != nil {
			return err
		}
		switch t.text {
		case "+":
			p.emit(instr{op: opAdd})
		case "-":
			p.emit(instr{op: opSub})
		case "*":
			p.emit(instr{op: opMul})
		case "/":
			p.emit(instr{op: opDiv})
		case "^":
			p.emit(instr{op: opPow})
		}
	}
}

func (p *parser) parsePrefix() *FormulaError {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		// Unary minus binds just below ^, so -a^b means -(a^b).
		if err := p.parseExpr(binaryPrec("^")); err != nil {
			return err
		}
		if t.text == "-" {
			p.emit(instr{op: opNeg})
		}
		return nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() *FormulaError {
	t := p.next()
	switch t.kind {
	case tokNumber:
		p.emit(instr{op: opConst, val: t.val})
		return nil

	case tokLParen:
		if err := p.parseExpr(1); err != nil {
			return err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return p.errf(closing.pos, "expected ')'")
		}
		return nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if v, ok := constants[t.text]; ok {
			p.emit(instr{op: opConst, val: v})
			return nil
		}
		if !p.known[t.text] {
			return p.errf(t.pos, "unknown identifier %q", t.text)
		}
		idx, ok := p.out.varIndex[t.text]
		if !ok {
			idx = len(p.out.vars)
			p.out.vars = append(p.out.vars, t.text)
			p.out.varIndex[t.text] = idx
		}
		p.emit(instr{op: opVar, arg: idx})
		return nil

	case tokEOF:
		return p.errf(t.pos, "unexpected end of formula")
	}
	return p.errf(t.pos, "unexpected %q", t.text)
}

// parseCall handles name(arg[, arg]) for functions and aggregates.
func (p *parser) parseCall(name token) *FormulaError {
	p.next() // consume '('
	nargs, err := p.parseArgs(name)
	if err != nil {
		return err
	}

	if kind, ok := aggNames[name.text]; ok {
		if nargs != 1 {
			return p.errf(name.pos, "%s expects 1 argument, got %d", name.text, nargs)
		}
		w := &aggWindow{kind: kind}
		p.out.windows = append(p.out.windows, w)
		p.emit(instr{op: opAgg, arg: len(p.out.windows) - 1})
		return nil
	}
	for i, f := range func1Table {
		if f.name == name.text {
			if nargs != 1 {
				return p.errf(name.pos, "%s expects 1 argument, got %d", name.text, nargs)
			}
			p.emit(instr{op: opCall1, arg: i})
			return nil
		}
	}
	for i, f := range func2Table {
		if f.name == name.text {
			if nargs != 2 {
				return p.errf(name.pos, "%s expects 2 arguments, got %d", name.text, nargs)
			}
			p.emit(instr{op: opCall2, arg: i})
			return nil
		}
	}
	return p.errf(name.pos, "unsupported function %q", name.text)
}

func (p *parser) parseArgs(name token) (int, *FormulaError) {
	if p.peek().kind == tokRParen {
		p.next()
		return 0, nil
	}
	nargs := 0
	for {
		if err := p.parseExpr(1); err != nil {
			return 0, err
		}
		nargs++
		t := p.next()
		if t.kind == tokRParen {
			return nargs, nil
		}
		if t.kind != tokComma {
			return 0, p.errf(t.pos, "expected ',' or ')' in call to %s", name.text)
		}
	}
}
