package stream

import "errors"

// Hooks lets the owner of a Pipeline observe what happens to each record.
// All hooks are optional and run synchronously on the read loop.
type Hooks struct {
	OnMalformed  func(line string, err error)
	OnTransition func(rec Record, tr Transition)
	OnOutputs    func(rec Record)
}

// Pipeline wires LineReassembler, Classify, ScopeTracker and Relay together
// for a single stream. It is not safe for concurrent use; records are handled
// strictly in wire order.
type Pipeline struct {
	lines   *LineReassembler
	tracker *ScopeTracker
	relay   *Relay
	hooks   Hooks

	classified int
	malformed  int
	outputs    int
}

func NewPipeline(relay *Relay, threshold int, hooks Hooks) *Pipeline {
	return &Pipeline{
		lines:   NewLineReassembler(),
		tracker: NewScopeTracker(threshold),
		relay:   relay,
		hooks:   hooks,
	}
}

// Feed processes one chunk of upstream bytes. It only returns an error when
// the relay is closed; per-line problems are reported through hooks.
func (p *Pipeline) Feed(chunk []byte) error {
	for _, line := range p.lines.Feed(chunk) {
		if err := p.handle(line); err != nil {
			return err
		}
	}
	return nil
}

// Finish attempts the carry-over tail as a final record. A tail that does not
// classify is reported and dropped.
func (p *Pipeline) Finish() error {
	tail, ok := p.lines.Flush()
	if !ok {
		return nil
	}
	return p.handle(tail)
}

func (p *Pipeline) handle(line string) error {
	rec, err := Classify(line)
	if err != nil {
		if errors.Is(err, ErrBlankLine) {
			return nil
		}
		p.malformed++
		if p.hooks.OnMalformed != nil {
			p.hooks.OnMalformed(line, err)
		}
		return nil
	}
	p.classified++

	tr := p.tracker.Observe(rec)
	if p.hooks.OnTransition != nil && (tr != TransitionNone || rec.Kind == KindGeneration) {
		p.hooks.OnTransition(rec, tr)
	}

	switch rec.Kind {
	case KindChunk:
		return p.relay.OnChunk(rec, p.tracker.Open())
	case KindOutputs:
		p.outputs++
		if p.hooks.OnOutputs != nil {
			p.hooks.OnOutputs(rec)
		}
	}
	return nil
}

type Stats struct {
	Classified  int
	Malformed   int
	Outputs     int
	Forwarded   int
	Dropped     int
	ForcedOpen  bool
	Generations map[string]int
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Classified:  p.classified,
		Malformed:   p.malformed,
		Outputs:     p.outputs,
		Forwarded:   p.relay.Forwarded(),
		Dropped:     p.relay.Dropped(),
		ForcedOpen:  p.tracker.Forced(),
		Generations: p.tracker.Generations(),
	}
}

func (p *Pipeline) Relay() *Relay { return p.relay }
